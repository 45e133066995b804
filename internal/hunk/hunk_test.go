// Tests for conflict hunk hashing.
package hunk

import "testing"

// TestContentHashDeterministic ensures identical triples hash identically.
func TestContentHashDeterministic(t *testing.T) {
	first := ConflictHunk{
		FilePath:      "config.json",
		BaseContent:   "{\"port\":8000}\n",
		OursContent:   "{\"port\":8080}\n",
		TheirsContent: "{\"port\":9090}\n",
	}
	second := ConflictHunk{
		FilePath:      "other/config.json",
		BaseContent:   first.BaseContent,
		OursContent:   first.OursContent,
		TheirsContent: first.TheirsContent,
	}
	if first.ContentHash() != second.ContentHash() {
		t.Fatal("expected hash to depend only on the content triple")
	}
}

// TestContentHashFraming ensures shifted boundaries produce distinct hashes.
func TestContentHashFraming(t *testing.T) {
	first := ConflictHunk{BaseContent: "ab", OursContent: "c", TheirsContent: ""}
	second := ConflictHunk{BaseContent: "a", OursContent: "bc", TheirsContent: ""}
	if first.ContentHash() == second.ContentHash() {
		t.Fatal("expected framing to separate base and ours content")
	}
}

// TestContentHashSideOrder ensures swapping sides changes the hash.
func TestContentHashSideOrder(t *testing.T) {
	first := ConflictHunk{BaseContent: "base", OursContent: "one", TheirsContent: "two"}
	second := ConflictHunk{BaseContent: "base", OursContent: "two", TheirsContent: "one"}
	if first.ContentHash() == second.ContentHash() {
		t.Fatal("expected ours/theirs order to affect the hash")
	}
}

// Tests for the audit logger and reader.
package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestAppendWritesJSONLines ensures events land as one JSON object per line
// with monotonically increasing sequence numbers.
func TestAppendWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	var warnings bytes.Buffer
	logger, err := NewLogger(path, &warnings)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	fixed := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	logger.now = func() time.Time { return fixed }

	if err := logger.Append(Event{Branch: "feature/json-schema", File: "config.json", ConflictType: "content", RuleApplied: "theirs", Result: ResultResolved}); err != nil {
		t.Fatalf("append resolved event: %v", err)
	}
	if err := logger.Append(Event{Branch: "feature/json-schema", Gate: "lint", Result: ResultGatePass}); err != nil {
		t.Fatalf("append gate event: %v", err)
	}
	if warnings.Len() != 0 {
		t.Fatalf("expected no warnings, got %q", warnings.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode first line: %v", err)
	}
	if first.Sequence != 1 || first.RuleApplied != "theirs" || !first.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected first event: %+v", first)
	}

	var second Event
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("decode second line: %v", err)
	}
	if second.Sequence != 2 || second.Gate != "lint" {
		t.Fatalf("unexpected second event: %+v", second)
	}
}

// TestAppendRejectsIncompleteEvents ensures branch and result are mandatory.
func TestAppendRejectsIncompleteEvents(t *testing.T) {
	logger, err := NewLogger(filepath.Join(t.TempDir(), "audit.log"), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if err := logger.Append(Event{Result: ResultSuccess}); err == nil {
		t.Fatal("expected error for missing branch")
	}
	if err := logger.Append(Event{Branch: "feature/x"}); err == nil {
		t.Fatal("expected error for missing result")
	}
}

// TestSequenceContinuesAcrossRestart ensures reopening resumes numbering.
func TestSequenceContinuesAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	first, err := NewLogger(path, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if err := first.Append(Event{Branch: "feature/x", Result: ResultSuccess}); err != nil {
		t.Fatalf("append: %v", err)
	}

	second, err := NewLogger(path, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("reopen logger: %v", err)
	}
	if err := second.Append(Event{Branch: "feature/y", Result: ResultQuarantined}); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}

	events, err := Read(path)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Sequence != 1 || events[1].Sequence != 2 {
		t.Fatalf("expected sequences 1,2 got %d,%d", events[0].Sequence, events[1].Sequence)
	}
}

// TestReadMissingLog ensures a missing log reads as empty history.
func TestReadMissingLog(t *testing.T) {
	events, err := Read(filepath.Join(t.TempDir(), "absent.log"))
	if err != nil {
		t.Fatalf("read missing log: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

// TestFilterBranch ensures per-branch history extraction keeps order.
func TestFilterBranch(t *testing.T) {
	events := []Event{
		{Branch: "a", Result: ResultResolved, Sequence: 1},
		{Branch: "b", Result: ResultQuarantined, Sequence: 2},
		{Branch: "a", Result: ResultSuccess, Sequence: 3},
	}
	filtered := FilterBranch(events, "a")
	if len(filtered) != 2 || filtered[0].Sequence != 1 || filtered[1].Sequence != 3 {
		t.Fatalf("unexpected filtered events: %+v", filtered)
	}
}

package driver

import (
	"context"
	"strings"

	"github.com/calebmills/mergetrain/internal/hunk"
)

// resolveOurs returns the branch side verbatim.
func resolveOurs(_ context.Context, conflict hunk.ConflictHunk, _ map[string]string) (string, error) {
	return conflict.OursContent, nil
}

// resolveTheirs returns the target side verbatim.
func resolveTheirs(_ context.Context, conflict hunk.ConflictHunk, _ map[string]string) (string, error) {
	return conflict.TheirsContent, nil
}

// resolveUnion concatenates unique lines from both sides, ours first, then
// any theirs lines not already present.
func resolveUnion(_ context.Context, conflict hunk.ConflictHunk, _ map[string]string) (string, error) {
	seen := map[string]struct{}{}
	var merged []string
	for _, line := range splitLines(conflict.OursContent) {
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		merged = append(merged, line)
	}
	for _, line := range splitLines(conflict.TheirsContent) {
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		merged = append(merged, line)
	}
	if len(merged) == 0 {
		return "", nil
	}
	return strings.Join(merged, "\n") + "\n", nil
}

// resolveBinary never auto-resolves: binary content has no mergeable structure.
func resolveBinary(_ context.Context, conflict hunk.ConflictHunk, _ map[string]string) (string, error) {
	return "", manualf(StrategyBinary, "binary file %s requires manual resolution", conflict.FilePath)
}

// resolveManual never auto-resolves by definition.
func resolveManual(_ context.Context, conflict hunk.ConflictHunk, _ map[string]string) (string, error) {
	return "", manualf(StrategyManual, "file %s is routed to manual resolution", conflict.FilePath)
}

// splitLines splits content into lines without a trailing empty element.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

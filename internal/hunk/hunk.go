// Package hunk models irreconcilable regions surfaced during a rebase.
package hunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/calebmills/mergetrain/internal/gitx"
)

// ConflictHunk identifies one irreconcilable region of a file: the common
// ancestor content and both divergent sides. Immutable once produced.
type ConflictHunk struct {
	FilePath      string
	BaseContent   string
	OursContent   string
	TheirsContent string
}

// ContentHash derives the cache key for the hunk: a SHA-256 over the
// (base, ours, theirs) triple with unambiguous framing.
func (h ConflictHunk) ContentHash() string {
	digest := sha256.New()
	for _, part := range []string{h.BaseContent, h.OursContent, h.TheirsContent} {
		_, _ = fmt.Fprintf(digest, "%d:", len(part))
		_, _ = digest.Write([]byte(part))
	}
	return hex.EncodeToString(digest.Sum(nil))
}

// Index stage numbers git assigns during a conflicted merge.
const (
	stageBase   = 1
	stageOurs   = 2
	stageTheirs = 3
)

// Collect extracts one ConflictHunk per conflicted file in the worktree.
// During a rebase the index stages are inverted relative to the branch under
// replay: stage 2 holds the target ("ours" from git's perspective) and stage
// 3 holds the branch commit being applied. Callers pass theirsIsBranch=true
// for rebase conflicts so hunk sides keep the policy meaning of ours=branch,
// theirs=target.
func Collect(ctx context.Context, git gitx.Runner, theirsIsBranch bool) ([]ConflictHunk, error) {
	paths, err := git.Lines(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("list conflicted files: %w", err)
	}
	if len(paths) == 0 {
		return nil, nil
	}

	hunks := make([]ConflictHunk, 0, len(paths))
	for _, path := range paths {
		base, err := readStage(ctx, git, stageBase, path)
		if err != nil {
			return nil, err
		}
		ours, err := readStage(ctx, git, stageOurs, path)
		if err != nil {
			return nil, err
		}
		theirs, err := readStage(ctx, git, stageTheirs, path)
		if err != nil {
			return nil, err
		}
		if theirsIsBranch {
			ours, theirs = theirs, ours
		}
		hunks = append(hunks, ConflictHunk{
			FilePath:      path,
			BaseContent:   base,
			OursContent:   ours,
			TheirsContent: theirs,
		})
	}
	return hunks, nil
}

// readStage reads one index stage of a conflicted path, byte for byte. A
// missing stage (add/add or delete/modify conflicts) yields empty content.
func readStage(ctx context.Context, git gitx.Runner, stage int, path string) (string, error) {
	output, err := git.RawOutput(ctx, "show", fmt.Sprintf(":%d:%s", stage, path))
	if err != nil {
		if errors.Is(err, gitx.ErrTimeout) {
			return "", err
		}
		if isMissingStage(err) {
			return "", nil
		}
		return "", fmt.Errorf("read stage %d of %s: %w", stage, path, err)
	}
	return string(output), nil
}

// isMissingStage reports whether git failed because the stage does not exist.
func isMissingStage(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "does not exist") ||
		strings.Contains(message, "is in the index, but not at stage") ||
		strings.Contains(message, "exists on disk, but not in")
}

// Package worktree manages per-attempt isolated git worktrees.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/calebmills/mergetrain/internal/gitx"
	"github.com/calebmills/mergetrain/internal/slug"
)

const (
	// localStateDirName is the relative path for transient engine state.
	localStateDirName = "_mergetrain/_local-state"
	// worktreesDirName holds per-attempt worktrees under local state.
	worktreesDirName = "worktrees"
	// localStateDirMode defines permissions for the local state directory.
	localStateDirMode = 0o755
)

// Manager creates and disposes attempt-scoped worktrees. Each MergeAttempt
// gets an exclusively owned working copy so concurrent attempts never race
// the same files.
type Manager struct {
	repoRoot string
	git      gitx.Runner
	now      func() time.Time
}

// Attempt captures the resolved worktree for one merge attempt.
type Attempt struct {
	Path       string
	WorkBranch string
}

// NewManager constructs a Manager rooted at the repository root.
func NewManager(repoRoot string) (Manager, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return Manager{}, errors.New("repo root is required")
	}
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return Manager{}, fmt.Errorf("resolve absolute repo root %s: %w", repoRoot, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return Manager{}, fmt.Errorf("stat repo root %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return Manager{}, fmt.Errorf("repo root %s is not a directory", absRoot)
	}
	git, err := gitx.NewRunner(absRoot)
	if err != nil {
		return Manager{}, err
	}
	return Manager{repoRoot: absRoot, git: git, now: time.Now}, nil
}

// Create builds an isolated worktree for the branch, checked out on a
// throwaway work branch so the original ref is never mutated in place.
func (m Manager) Create(ctx context.Context, branch string) (Attempt, error) {
	if strings.TrimSpace(m.repoRoot) == "" {
		return Attempt{}, errors.New("worktree manager is not initialized")
	}
	if strings.TrimSpace(branch) == "" {
		return Attempt{}, errors.New("branch is required")
	}

	worktreesDir := filepath.Join(m.repoRoot, localStateDirName, worktreesDirName)
	if err := os.MkdirAll(worktreesDir, localStateDirMode); err != nil {
		return Attempt{}, fmt.Errorf("create worktrees directory %s: %w", worktreesDir, err)
	}

	suffix := m.now().UTC().Format("20060102-150405.000")
	name := fmt.Sprintf("%s-%s", slug.Slugify(branch), suffix)
	path := filepath.Join(worktreesDir, name)
	workBranch := "mergetrain/attempt/" + name
	if _, err := os.Stat(path); err == nil {
		return Attempt{}, fmt.Errorf("worktree path %s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Attempt{}, fmt.Errorf("stat worktree path %s: %w", path, err)
	}

	if err := m.git.Run(ctx, "worktree", "add", "-b", workBranch, path, branch); err != nil {
		return Attempt{}, fmt.Errorf("create attempt worktree for %s: %w", branch, err)
	}
	return Attempt{Path: path, WorkBranch: workBranch}, nil
}

// Remove disposes an attempt worktree and its throwaway branch.
func (m Manager) Remove(ctx context.Context, attempt Attempt) error {
	if strings.TrimSpace(attempt.Path) == "" {
		return errors.New("attempt worktree path is required")
	}
	if err := m.git.Run(ctx, "worktree", "remove", "--force", attempt.Path); err != nil {
		return fmt.Errorf("remove attempt worktree %s: %w", attempt.Path, err)
	}
	if attempt.WorkBranch != "" {
		if err := m.git.Run(ctx, "branch", "-D", attempt.WorkBranch); err != nil {
			return fmt.Errorf("delete attempt branch %s: %w", attempt.WorkBranch, err)
		}
	}
	return nil
}

// LocalStateDir returns the engine state directory under a repo root.
func LocalStateDir(repoRoot string) string {
	return filepath.Join(repoRoot, localStateDirName)
}

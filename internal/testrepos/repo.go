// Package testrepos builds temporary git repositories for merge-train tests.
package testrepos

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TempRepo is a throwaway git repository rooted in a temp directory.
type TempRepo struct {
	Root string
}

// New creates a temporary repository with an initial commit on main.
func New(tb testing.TB) *TempRepo {
	tb.Helper()
	root, err := os.MkdirTemp("", "mergetrain-test-repo-*")
	if err != nil {
		tb.Fatalf("create temp repo directory: %v", err)
	}

	repo := &TempRepo{Root: root}
	tb.Cleanup(func() {
		if cleanupErr := os.RemoveAll(root); cleanupErr != nil {
			tb.Fatalf("cleanup temp repo: %v", cleanupErr)
		}
	})

	repo.RunGit(tb, "init", "--initial-branch=main")
	repo.RunGit(tb, "config", "user.name", "Mergetrain Test")
	repo.RunGit(tb, "config", "user.email", "test@example.com")
	repo.WriteFile(tb, "README.md", "# Temp Mergetrain Repository\n")
	repo.Commit(tb, "Initial commit", "README.md")
	return repo
}

// RunGit executes git in the repository and fails the test on error.
func (r *TempRepo) RunGit(tb testing.TB, args ...string) string {
	tb.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Root
	output, err := cmd.CombinedOutput()
	if err != nil {
		tb.Fatalf("git %s failed: %v: %s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output))
}

// TryGit executes git and returns combined output and error without failing.
func (r *TempRepo) TryGit(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Root
	output, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(output)), err
}

// WriteFile writes a file under the repo root, creating parent directories.
func (r *TempRepo) WriteFile(tb testing.TB, relPath string, content string) {
	tb.Helper()
	path := filepath.Join(r.Root, relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("create parent dirs for %s: %v", relPath, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("write %s: %v", relPath, err)
	}
}

// ReadFile reads a file under the repo root.
func (r *TempRepo) ReadFile(tb testing.TB, relPath string) string {
	tb.Helper()
	data, err := os.ReadFile(filepath.Join(r.Root, relPath))
	if err != nil {
		tb.Fatalf("read %s: %v", relPath, err)
	}
	return string(data)
}

// Commit stages the given paths and commits them.
func (r *TempRepo) Commit(tb testing.TB, message string, paths ...string) string {
	tb.Helper()
	for _, path := range paths {
		r.RunGit(tb, "add", path)
	}
	r.RunGit(tb, "commit", "-m", message)
	return r.Head(tb)
}

// Checkout switches to an existing branch.
func (r *TempRepo) Checkout(tb testing.TB, branch string) {
	tb.Helper()
	r.RunGit(tb, "checkout", branch)
}

// NewBranch creates a branch from the given start point and checks it out.
func (r *TempRepo) NewBranch(tb testing.TB, name string, from string) {
	tb.Helper()
	r.RunGit(tb, "checkout", "-b", name, from)
}

// Head returns the current HEAD commit SHA.
func (r *TempRepo) Head(tb testing.TB) string {
	tb.Helper()
	return r.RunGit(tb, "rev-parse", "HEAD")
}

// BranchHead returns the commit SHA a branch points at.
func (r *TempRepo) BranchHead(tb testing.TB, branch string) string {
	tb.Helper()
	return r.RunGit(tb, "rev-parse", "refs/heads/"+branch)
}

// BranchExists reports whether a local branch exists.
func (r *TempRepo) BranchExists(branch string) bool {
	_, err := r.TryGit("show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// DivergentFile commits conflicting versions of one file: baseContent on
// main, oursContent on a new branch, theirsContent back on main. Returns the
// branch name.
func (r *TempRepo) DivergentFile(tb testing.TB, branch string, relPath string, baseContent string, oursContent string, theirsContent string) string {
	tb.Helper()
	r.Checkout(tb, "main")
	r.WriteFile(tb, relPath, baseContent)
	r.Commit(tb, fmt.Sprintf("Add %s", relPath), relPath)

	r.NewBranch(tb, branch, "main")
	r.WriteFile(tb, relPath, oursContent)
	r.Commit(tb, fmt.Sprintf("Branch change to %s", relPath), relPath)

	r.Checkout(tb, "main")
	r.WriteFile(tb, relPath, theirsContent)
	r.Commit(tb, fmt.Sprintf("Main change to %s", relPath), relPath)
	return branch
}

// CleanBranchChange commits a non-conflicting change on a new branch.
func (r *TempRepo) CleanBranchChange(tb testing.TB, branch string, relPath string, content string) string {
	tb.Helper()
	r.Checkout(tb, "main")
	r.NewBranch(tb, branch, "main")
	r.WriteFile(tb, relPath, content)
	r.Commit(tb, fmt.Sprintf("Branch adds %s", relPath), relPath)
	r.Checkout(tb, "main")
	return branch
}

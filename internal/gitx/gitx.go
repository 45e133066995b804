// Package gitx wraps git subprocess execution for engine operations.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single git invocation when the caller does not
// supply its own deadline.
const DefaultTimeout = 5 * time.Minute

// ErrTimeout marks a git invocation that exceeded its deadline.
var ErrTimeout = errors.New("git command timed out")

// Runner executes git commands rooted at a single working directory.
type Runner struct {
	dir     string
	timeout time.Duration
}

// NewRunner builds a Runner for the given working directory.
func NewRunner(dir string) (Runner, error) {
	if strings.TrimSpace(dir) == "" {
		return Runner{}, errors.New("working directory is required")
	}
	return Runner{dir: dir, timeout: DefaultTimeout}, nil
}

// WithTimeout returns a copy of the runner using the supplied per-command timeout.
func (r Runner) WithTimeout(timeout time.Duration) Runner {
	if timeout > 0 {
		r.timeout = timeout
	}
	return r
}

// Dir returns the working directory the runner executes in.
func (r Runner) Dir() string {
	return r.dir
}

// Run executes git with the provided arguments and discards output on success.
func (r Runner) Run(ctx context.Context, args ...string) error {
	_, err := r.Output(ctx, args...)
	return err
}

// Output executes git and returns trimmed combined stdout/stderr.
func (r Runner) Output(ctx context.Context, args ...string) (string, error) {
	if strings.TrimSpace(r.dir) == "" {
		return "", errors.New("git runner is not initialized")
	}
	if len(args) == 0 {
		return "", errors.New("git arguments are required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	output := strings.TrimSpace(combined.String())
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("%w: git %s after %s", ErrTimeout, strings.Join(args, " "), r.timeout)
		}
		return output, fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, output)
	}
	return output, nil
}

// RawOutput executes git and returns stdout byte for byte, with stderr kept
// separate for error reporting. Used where output is file content and any
// trimming would corrupt it.
func (r Runner) RawOutput(ctx context.Context, args ...string) ([]byte, error) {
	if strings.TrimSpace(r.dir) == "" {
		return nil, errors.New("git runner is not initialized")
	}
	if len(args) == 0 {
		return nil, errors.New("git arguments are required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		message := strings.TrimSpace(stderr.String())
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: git %s after %s", ErrTimeout, strings.Join(args, " "), r.timeout)
		}
		return nil, fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, message)
	}
	return stdout.Bytes(), nil
}

// Lines executes git and splits non-empty output lines.
func (r Runner) Lines(ctx context.Context, args ...string) ([]string, error) {
	output, err := r.Output(ctx, args...)
	if err != nil {
		return nil, err
	}
	if output == "" {
		return nil, nil
	}
	raw := strings.Split(output, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// Head returns the current HEAD commit SHA.
func (r Runner) Head(ctx context.Context) (string, error) {
	return r.Output(ctx, "rev-parse", "HEAD")
}

// BranchExists reports whether a local branch exists.
func (r Runner) BranchExists(ctx context.Context, branch string) (bool, error) {
	if strings.TrimSpace(branch) == "" {
		return false, errors.New("branch is required")
	}
	err := r.Run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrTimeout) {
		return false, err
	}
	return false, nil
}

// EnsureClean verifies the working tree has no uncommitted changes outside
// the engine's own state directory.
func (r Runner) EnsureClean(ctx context.Context, ignorePrefix string) error {
	output, err := r.RawOutput(ctx, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("check worktree status: %w", err)
	}
	for _, line := range strings.Split(string(output), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		// Untracked entries survive a ref reset and do not count as dirt.
		if strings.HasPrefix(line, "??") {
			continue
		}
		// Porcelain lines are "XY path"; keep the two status columns intact.
		path := line
		if len(line) > 3 {
			path = line[3:]
		}
		if ignorePrefix != "" && strings.HasPrefix(path, ignorePrefix) {
			continue
		}
		return fmt.Errorf("worktree %s has uncommitted changes: %s", r.dir, strings.TrimSpace(line))
	}
	return nil
}

// IsConflict reports whether a git error indicates a merge or rebase conflict
// rather than an infrastructure failure.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "conflict") ||
		strings.Contains(message, "could not apply") ||
		strings.Contains(message, "automatic merge failed")
}

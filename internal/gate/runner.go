// Package gate executes configured verification checks against a tentative merge.
package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/calebmills/mergetrain/internal/policy"
)

// TimeoutOutput is recorded as the output of a gate that exceeded its deadline.
const TimeoutOutput = "timeout"

// Result captures one gate invocation.
type Result struct {
	Name    string
	Passed  bool
	Output  string
	Elapsed time.Duration
}

// Failure describes the blocking gate that halted verification.
type Failure struct {
	Gate   string
	Output string
}

// Error renders the blocking failure.
func (f *Failure) Error() string {
	return fmt.Sprintf("blocking gate %s failed", f.Gate)
}

// Runner executes gate commands inside a working directory.
type Runner struct {
	workDir string
	warn    func(string)
}

// NewRunner builds a gate runner rooted at the tentative merge worktree.
func NewRunner(workDir string, warn func(string)) (Runner, error) {
	if strings.TrimSpace(workDir) == "" {
		return Runner{}, errors.New("work directory is required")
	}
	return Runner{workDir: workDir, warn: warn}, nil
}

// RunAll executes gates strictly in declared order. A blocking failure stops
// execution immediately and is returned as a *Failure; later gates are never
// invoked. Non-blocking failures are recorded and execution continues.
func (r Runner) RunAll(ctx context.Context, gates []policy.Gate) ([]Result, error) {
	results := make([]Result, 0, len(gates))
	for _, gate := range gates {
		result := r.runOne(ctx, gate)
		results = append(results, result)
		if !result.Passed {
			if gate.Blocking {
				return results, &Failure{Gate: gate.Name, Output: result.Output}
			}
			r.warnf("non-blocking gate %s failed, continuing", gate.Name)
		}
	}
	return results, nil
}

// runOne executes a single gate command with its configured timeout.
func (r Runner) runOne(ctx context.Context, gate policy.Gate) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := time.Duration(gate.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(policy.DefaultGateTimeoutSeconds) * time.Second
	}
	gateCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(gateCtx, "bash", "-lc", gate.Command)
	cmd.Dir = r.workDir

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := Result{
		Name:    gate.Name,
		Output:  strings.TrimSpace(combined.String()),
		Elapsed: elapsed,
	}
	switch {
	case gateCtx.Err() == context.DeadlineExceeded:
		result.Output = TimeoutOutput
		r.warnf("gate %s timed out after %s", gate.Name, timeout)
	case err != nil:
		// exit-code contract: non-zero means fail, output already captured
	default:
		result.Passed = true
	}
	return result
}

// warnf formats a warning and sends it to the configured sink.
func (r Runner) warnf(format string, args ...any) {
	if r.warn != nil {
		r.warn(fmt.Sprintf(format, args...))
	}
}

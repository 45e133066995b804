// Tests for verification gate execution.
package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calebmills/mergetrain/internal/policy"
)

// gateSpec builds a gate with the given shape for tests.
func gateSpec(name string, command string, blocking bool) policy.Gate {
	return policy.Gate{Name: name, Command: command, Blocking: blocking, TimeoutSeconds: 30}
}

// TestRunAllPassing ensures passing gates run in declared order.
func TestRunAllPassing(t *testing.T) {
	runner, err := NewRunner(t.TempDir(), nil)
	require.NoError(t, err)

	results, err := runner.RunAll(context.Background(), []policy.Gate{
		gateSpec("lint", "true", true),
		gateSpec("test", "echo all green", true),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "lint", results[0].Name)
	require.True(t, results[0].Passed)
	require.True(t, results[1].Passed)
	require.Contains(t, results[1].Output, "all green")
}

// TestBlockingFailureShortCircuits covers the ordering contract: when lint
// fails, test and scan are never invoked and the failure cites lint.
func TestBlockingFailureShortCircuits(t *testing.T) {
	runner, err := NewRunner(t.TempDir(), nil)
	require.NoError(t, err)

	results, err := runner.RunAll(context.Background(), []policy.Gate{
		gateSpec("lint", "echo style violations; exit 1", true),
		gateSpec("test", "true", true),
		gateSpec("scan", "true", false),
	})

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	require.Equal(t, "lint", failure.Gate)
	require.Contains(t, failure.Output, "style violations")
	require.Len(t, results, 1, "test and scan must never run")
}

// TestNonBlockingFailureContinues ensures non-blocking failures are recorded
// without halting the run.
func TestNonBlockingFailureContinues(t *testing.T) {
	var warned []string
	runner, err := NewRunner(t.TempDir(), func(message string) { warned = append(warned, message) })
	require.NoError(t, err)

	results, err := runner.RunAll(context.Background(), []policy.Gate{
		gateSpec("scan", "exit 3", false),
		gateSpec("test", "true", true),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.False(t, results[0].Passed)
	require.True(t, results[1].Passed)
	require.Len(t, warned, 1)
	require.Equal(t, "non-blocking gate scan failed, continuing", warned[0])
}

// TestTimeoutCountsAsFailure ensures a timed-out gate fails with output "timeout".
func TestTimeoutCountsAsFailure(t *testing.T) {
	runner, err := NewRunner(t.TempDir(), nil)
	require.NoError(t, err)

	timedOut := policy.Gate{Name: "slow", Command: "sleep 5", Blocking: true, TimeoutSeconds: 1}
	results, err := runner.RunAll(context.Background(), []policy.Gate{timedOut})

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	require.Equal(t, "slow", failure.Gate)
	require.Equal(t, TimeoutOutput, failure.Output)
	require.Len(t, results, 1)
	require.Equal(t, TimeoutOutput, results[0].Output)
}

// TestGateOutputCapturesStderr ensures combined output includes stderr.
func TestGateOutputCapturesStderr(t *testing.T) {
	runner, err := NewRunner(t.TempDir(), nil)
	require.NoError(t, err)

	results, err := runner.RunAll(context.Background(), []policy.Gate{
		gateSpec("scan", "echo warning >&2; exit 2", false),
	})
	require.NoError(t, err)
	require.Contains(t, results[0].Output, "warning")
}

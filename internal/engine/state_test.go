package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowedTransitions(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateFetching, StateRebasing},
		{StateRebasing, StateConflictResolution},
		{StateRebasing, StateVerifying},
		{StateConflictResolution, StateVerifying},
		{StateConflictResolution, StateQuarantined},
		{StateVerifying, StatePublishing},
		{StateVerifying, StateQuarantined},
		{StatePublishing, StatePublished},
	}
	for _, edge := range allowed {
		require.True(t, IsValidTransition(edge.from, edge.to), "%s -> %s must be allowed", edge.from, edge.to)
		require.NoError(t, ValidateTransition(edge.from, edge.to))
	}
}

func TestForbiddenTransitions(t *testing.T) {
	forbidden := []struct{ from, to State }{
		{StateFetching, StatePublished},
		{StateVerifying, StateRebasing},
		{StateFetching, StateVerifying},
		{StatePublished, StateFetching},
		{StateQuarantined, StateVerifying},
		{StateAborted, StateFetching},
		{StateConflictResolution, StatePublishing},
	}
	for _, edge := range forbidden {
		require.False(t, IsValidTransition(edge.from, edge.to), "%s -> %s must be rejected", edge.from, edge.to)
		require.Error(t, ValidateTransition(edge.from, edge.to))
	}
}

func TestTerminalStates(t *testing.T) {
	for _, state := range []State{StatePublished, StateQuarantined, StateAborted} {
		require.True(t, state.IsTerminal(), "%s must be terminal", state)
		require.Empty(t, allowedTransitions[state], "%s must have no outgoing edges", state)
	}
	for _, state := range []State{StateFetching, StateRebasing, StateConflictResolution, StateVerifying, StatePublishing} {
		require.False(t, state.IsTerminal(), "%s must not be terminal", state)
	}
}

func TestAttemptTransitionPanicsOnInvalidEdge(t *testing.T) {
	attempt := &Attempt{Branch: "feature/x", State: StateFetching}
	attempt.transition(StateRebasing)
	require.Equal(t, StateRebasing, attempt.State)
	require.Panics(t, func() { attempt.transition(StatePublished) })
}

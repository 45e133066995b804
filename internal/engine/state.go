// Package engine drives one branch through the deterministic merge state machine.
package engine

import "fmt"

// State labels a merge attempt's position in the state machine.
type State string

const (
	// StateFetching syncs the local view of the target ref.
	StateFetching State = "fetching"
	// StateRebasing replays the branch's commits onto the target ref.
	StateRebasing State = "rebasing"
	// StateConflictResolution resolves collected hunks via cache and drivers.
	StateConflictResolution State = "conflict-resolution"
	// StateVerifying runs gates and the fence check on the tentative result.
	StateVerifying State = "verifying"
	// StatePublishing writes the terminal marker and updates the target.
	StatePublishing State = "publishing"
	// StatePublished is the terminal success state.
	StatePublished State = "published"
	// StateQuarantined is the terminal set-aside state. Never retried
	// automatically.
	StateQuarantined State = "quarantined"
	// StateAborted is the terminal state for infrastructure failure. The
	// branch may be retried on a later cycle.
	StateAborted State = "aborted"
)

// allowedTransitions defines the permitted state machine edges. Every
// non-terminal state may fail over to Quarantined or Aborted.
var allowedTransitions = map[State]map[State]struct{}{
	StateFetching: {
		StateRebasing:    {},
		StateQuarantined: {},
		StateAborted:     {},
	},
	StateRebasing: {
		StateConflictResolution: {},
		StateVerifying:          {},
		StateQuarantined:        {},
		StateAborted:            {},
	},
	StateConflictResolution: {
		StateVerifying:   {},
		StateQuarantined: {},
		StateAborted:     {},
	},
	StateVerifying: {
		StatePublishing:  {},
		StateQuarantined: {},
		StateAborted:     {},
	},
	StatePublishing: {
		StatePublished:   {},
		StateQuarantined: {},
		StateAborted:     {},
	},
	StatePublished:   {},
	StateQuarantined: {},
	StateAborted:     {},
}

// IsTerminal reports whether a state ends the attempt.
func (s State) IsTerminal() bool {
	return s == StatePublished || s == StateQuarantined || s == StateAborted
}

// IsValidTransition reports whether the state machine allows the edge.
func IsValidTransition(from State, to State) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// ValidateTransition returns an error when the edge is not allowed.
func ValidateTransition(from State, to State) error {
	if !IsValidTransition(from, to) {
		return fmt.Errorf("invalid merge attempt transition from %q to %q", from, to)
	}
	return nil
}

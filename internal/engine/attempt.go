package engine

import (
	"github.com/calebmills/mergetrain/internal/gate"
	"github.com/calebmills/mergetrain/internal/quarantine"
	"github.com/calebmills/mergetrain/internal/rescache"
)

// Outcome is the terminal disposition of a merge attempt.
type Outcome string

const (
	// OutcomePublished means the branch landed on the target.
	OutcomePublished Outcome = "published"
	// OutcomeQuarantined means the branch was set aside for human review.
	OutcomeQuarantined Outcome = "quarantined"
	// OutcomeAborted means infrastructure failed; the branch may be retried
	// on a later cycle.
	OutcomeAborted Outcome = "aborted"
)

// Attempt tracks one branch's journey through the state machine. Exclusively
// owned by the worker processing the branch; archived into the audit log when
// it reaches a terminal state.
type Attempt struct {
	Branch        string
	BaseRef       string
	TargetRef     string
	State         State
	ResolvedHunks []rescache.Record
	GateResults   []gate.Result
	Outcome       Outcome
	Ticket        *quarantine.Ticket
	Err           error
}

// transition advances the attempt, panicking on a programming error that
// violates the state machine table.
func (a *Attempt) transition(to State) {
	if err := ValidateTransition(a.State, to); err != nil {
		panic(err)
	}
	a.State = to
}

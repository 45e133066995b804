// Package status summarizes merge-train activity for the CLI and TUI.
package status

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/calebmills/mergetrain/internal/audit"
	"github.com/calebmills/mergetrain/internal/cyclelock"
	"github.com/calebmills/mergetrain/internal/quarantine"
	"github.com/calebmills/mergetrain/internal/worktree"
)

const (
	branchColumnWidth = 32
	resultColumnWidth = 12
	countColumnWidth  = 9
)

// outcomeRank orders rows so branches needing attention sort first.
var outcomeRank = map[string]int{
	audit.ResultAborted:     0,
	audit.ResultCritical:    0,
	audit.ResultQuarantined: 1,
	audit.ResultUnresolved:  2,
	audit.ResultGateFail:    2,
	audit.ResultPredicted:   3,
	audit.ResultSuccess:     4,
}

// BranchStatus is the latest known standing of one branch on the train.
type BranchStatus struct {
	Branch        string
	LastResult    string
	LastSeen      time.Time
	ResolvedHunks int
	GateFailures  int
	DryRun        bool
	Ticket        *quarantine.Ticket
}

// Summary aggregates the audit trail and open tickets for a repository.
type Summary struct {
	Enabled     bool
	Events      int
	LastEvent   time.Time
	Published   int
	Quarantined int
	Aborted     int
	Branches    []BranchStatus
}

// GetSummary reads the audit log and ticket store under the repo's state dir.
func GetSummary(repoRoot string) (Summary, error) {
	stateDir := worktree.LocalStateDir(repoRoot)

	events, err := audit.Read(audit.LogPath(stateDir))
	if err != nil {
		return Summary{}, fmt.Errorf("read audit log: %w", err)
	}
	enabled, err := cyclelock.Enabled(repoRoot)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Enabled: enabled, Events: len(events)}
	byBranch := map[string]*BranchStatus{}

	for _, event := range events {
		if event.Timestamp.After(summary.LastEvent) {
			summary.LastEvent = event.Timestamp
		}
		entry, ok := byBranch[event.Branch]
		if !ok {
			entry = &BranchStatus{Branch: event.Branch}
			byBranch[event.Branch] = entry
		}
		entry.LastSeen = event.Timestamp
		entry.DryRun = event.DryRun
		switch event.Result {
		case audit.ResultResolved:
			entry.ResolvedHunks++
		case audit.ResultGateFail:
			entry.GateFailures++
			entry.LastResult = event.Result
		default:
			entry.LastResult = event.Result
		}
	}

	router, err := quarantine.NewRouter(stateDir)
	if err != nil {
		return Summary{}, err
	}
	tickets, err := router.Tickets()
	if err != nil {
		return Summary{}, fmt.Errorf("load quarantine tickets: %w", err)
	}
	for i := range tickets {
		ticket := tickets[i]
		if entry, ok := byBranch[ticket.OriginalBranch]; ok {
			entry.Ticket = &ticket
		}
	}

	for _, entry := range byBranch {
		switch entry.LastResult {
		case audit.ResultSuccess:
			summary.Published++
		case audit.ResultQuarantined:
			summary.Quarantined++
		case audit.ResultAborted, audit.ResultCritical:
			summary.Aborted++
		}
		summary.Branches = append(summary.Branches, *entry)
	}

	sort.Slice(summary.Branches, func(i, j int) bool {
		left, right := summary.Branches[i], summary.Branches[j]
		if rankOf(left.LastResult) != rankOf(right.LastResult) {
			return rankOf(left.LastResult) < rankOf(right.LastResult)
		}
		return left.Branch < right.Branch
	})
	return summary, nil
}

// String renders the plain-text status output.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "train=%s events=%d last_event=%s\n",
		trainMode(s.Enabled), s.Events, formatTime(s.LastEvent))
	fmt.Fprintf(&b, "branches published=%d quarantined=%d aborted=%d\n",
		s.Published, s.Quarantined, s.Aborted)
	if len(s.Branches) == 0 {
		return strings.TrimSpace(b.String())
	}

	fmt.Fprintf(&b, "%-*s %-*s %-*s %-*s %s\n",
		branchColumnWidth, "branch",
		resultColumnWidth, "result",
		countColumnWidth, "resolved",
		countColumnWidth, "gatefails",
		"ticket",
	)
	for _, entry := range s.Branches {
		ticket := ""
		if entry.Ticket != nil {
			ticket = entry.Ticket.QuarantineBranch
		}
		fmt.Fprintf(&b, "%-*s %-*s %-*d %-*d %s\n",
			branchColumnWidth, entry.Branch,
			resultColumnWidth, normalizeToken(entry.LastResult),
			countColumnWidth, entry.ResolvedHunks,
			countColumnWidth, entry.GateFailures,
			ticket,
		)
	}
	return strings.TrimSpace(b.String())
}

func rankOf(result string) int {
	if rank, ok := outcomeRank[result]; ok {
		return rank
	}
	return len(outcomeRank)
}

func trainMode(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "manual-only"
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func normalizeToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}

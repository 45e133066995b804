// Package quarantine isolates attempts the engine could not safely integrate.
package quarantine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calebmills/mergetrain/internal/gitx"
	"github.com/calebmills/mergetrain/internal/slug"
)

// Reason enumerates why an attempt was quarantined.
type Reason string

const (
	// ReasonUnresolvedConflict marks hunks no strategy could resolve.
	ReasonUnresolvedConflict Reason = "unresolved-conflict"
	// ReasonGateFailure marks a blocking verification gate failure.
	ReasonGateFailure Reason = "gate-failure"
	// ReasonFenceViolation marks changes outside declared path ownership.
	ReasonFenceViolation Reason = "fence-violation"
)

const (
	// branchPrefix namespaces quarantine branches away from the target.
	branchPrefix = "needs-human/"
	// markerFileName is the explanatory marker committed on the quarantine branch.
	markerFileName = "QUARANTINE.md"
	// ticketsDirName holds ticket records under the engine state directory.
	ticketsDirName = "tickets"
)

// Ticket records one quarantine decision for human review tooling.
type Ticket struct {
	ID               string    `json:"id"`
	OriginalBranch   string    `json:"original_branch"`
	QuarantineBranch string    `json:"quarantine_branch"`
	Reason           Reason    `json:"reason"`
	Detail           string    `json:"detail"`
	OwnerHints       []string  `json:"owner_hints,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Router creates quarantine branches and persists tickets.
type Router struct {
	stateDir string
	now      func() time.Time
	newID    func() string
}

// NewRouter builds a router persisting tickets under the engine state directory.
func NewRouter(stateDir string) (*Router, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, errors.New("state directory is required")
	}
	return &Router{
		stateDir: stateDir,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}, nil
}

// Input describes the attempt being quarantined. The git runner must be
// rooted at the attempt's isolated worktree; its HEAD becomes the quarantine
// branch tip.
type Input struct {
	Git        gitx.Runner
	Branch     string
	Reason     Reason
	Detail     string
	OwnerHints []string
}

// Quarantine creates the isolated branch, commits an explanatory marker, and
// persists the ticket. Best-effort by contract: a returned error means even
// branch creation failed and the attempt must escalate to Aborted.
func (r *Router) Quarantine(ctx context.Context, input Input) (Ticket, error) {
	if strings.TrimSpace(input.Branch) == "" {
		return Ticket{}, errors.New("original branch is required")
	}
	if input.Reason == "" {
		return Ticket{}, errors.New("quarantine reason is required")
	}

	ticket := Ticket{
		ID:               r.newID(),
		OriginalBranch:   input.Branch,
		QuarantineBranch: BranchName(input.Branch, input.Reason),
		Reason:           input.Reason,
		Detail:           input.Detail,
		OwnerHints:       input.OwnerHints,
		CreatedAt:        r.now().UTC(),
	}

	// checkout -B: a stale quarantine branch from an earlier cycle is reset
	// rather than failing the router.
	if err := input.Git.Run(ctx, "checkout", "-B", ticket.QuarantineBranch); err != nil {
		return Ticket{}, fmt.Errorf("create quarantine branch %s: %w", ticket.QuarantineBranch, err)
	}

	markerPath := filepath.Join(input.Git.Dir(), markerFileName)
	if err := os.WriteFile(markerPath, []byte(renderMarker(ticket)), 0o644); err != nil {
		return Ticket{}, fmt.Errorf("write quarantine marker: %w", err)
	}
	if err := input.Git.Run(ctx, "add", markerFileName); err != nil {
		return Ticket{}, fmt.Errorf("stage quarantine marker: %w", err)
	}
	message := fmt.Sprintf("mergetrain: quarantine %s (%s)", input.Branch, input.Reason)
	if err := input.Git.Run(ctx, "commit", "-m", message); err != nil {
		return Ticket{}, fmt.Errorf("commit quarantine marker: %w", err)
	}

	if err := r.persist(ticket); err != nil {
		return Ticket{}, err
	}
	return ticket, nil
}

// BranchName derives the quarantine ref for a branch and reason.
func BranchName(branch string, reason Reason) string {
	return branchPrefix + branch + "-" + slug.Slugify(string(reason))
}

// persist writes the ticket record for external review tooling.
func (r *Router) persist(ticket Ticket) error {
	dir := filepath.Join(r.stateDir, ticketsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tickets directory %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(ticket, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ticket %s: %w", ticket.ID, err)
	}
	path := filepath.Join(dir, ticket.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write ticket %s: %w", path, err)
	}
	return nil
}

// Tickets loads every persisted ticket, newest last.
func (r *Router) Tickets() ([]Ticket, error) {
	dir := filepath.Join(r.stateDir, ticketsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list tickets directory %s: %w", dir, err)
	}
	var tickets []Ticket
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read ticket %s: %w", entry.Name(), err)
		}
		var ticket Ticket
		if err := json.Unmarshal(data, &ticket); err != nil {
			return nil, fmt.Errorf("decode ticket %s: %w", entry.Name(), err)
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

// renderMarker produces the human-readable explanation committed on the branch.
func renderMarker(ticket Ticket) string {
	var builder strings.Builder
	builder.WriteString("# Quarantined by mergetrain\n\n")
	fmt.Fprintf(&builder, "- ticket: %s\n", ticket.ID)
	fmt.Fprintf(&builder, "- original branch: %s\n", ticket.OriginalBranch)
	fmt.Fprintf(&builder, "- reason: %s\n", ticket.Reason)
	fmt.Fprintf(&builder, "- created: %s\n", ticket.CreatedAt.Format(time.RFC3339))
	if len(ticket.OwnerHints) > 0 {
		fmt.Fprintf(&builder, "- owners: %s\n", strings.Join(ticket.OwnerHints, ", "))
	}
	builder.WriteString("\n## Detail\n\n")
	builder.WriteString(ticket.Detail)
	builder.WriteString("\n\nThis branch was set aside because the merge engine could not\nintegrate it safely. Resolve the issue and requeue the original branch;\nquarantined branches are never retried automatically.\n")
	return builder.String()
}

// Tests for the quarantine router.
package quarantine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calebmills/mergetrain/internal/gitx"
	"github.com/calebmills/mergetrain/internal/testrepos"
)

// TestQuarantineCreatesBranchAndTicket ensures the isolated branch, marker
// commit, and persisted ticket are all produced.
func TestQuarantineCreatesBranchAndTicket(t *testing.T) {
	repo := testrepos.New(t)
	repo.CleanBranchChange(t, "feature/json-schema", "src/json/schema.json", "{}\n")
	repo.Checkout(t, "feature/json-schema")

	git, err := gitx.NewRunner(repo.Root)
	require.NoError(t, err)

	stateDir := filepath.Join(t.TempDir(), "state")
	router, err := NewRouter(stateDir)
	require.NoError(t, err)
	router.now = func() time.Time { return time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC) }
	router.newID = func() string { return "ticket-0001" }

	ticket, err := router.Quarantine(context.Background(), Input{
		Git:        git,
		Branch:     "feature/json-schema",
		Reason:     ReasonUnresolvedConflict,
		Detail:     "binary file assets/logo.png requires manual resolution",
		OwnerHints: []string{"alice@example.com"},
	})
	require.NoError(t, err)
	require.Equal(t, "needs-human/feature/json-schema-unresolved-conflict", ticket.QuarantineBranch)
	require.True(t, repo.BranchExists(ticket.QuarantineBranch))

	marker := repo.ReadFile(t, "QUARANTINE.md")
	require.Contains(t, marker, "feature/json-schema")
	require.Contains(t, marker, "unresolved-conflict")
	require.Contains(t, marker, "assets/logo.png")

	subject := repo.RunGit(t, "log", "-1", "--format=%s")
	require.True(t, strings.HasPrefix(subject, "mergetrain: quarantine"))

	tickets, err := router.Tickets()
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	require.Equal(t, ReasonUnresolvedConflict, tickets[0].Reason)
	require.Equal(t, []string{"alice@example.com"}, tickets[0].OwnerHints)
}

// TestQuarantineResetStaleBranch ensures an existing quarantine branch from a
// prior cycle is reset instead of failing.
func TestQuarantineResetStaleBranch(t *testing.T) {
	repo := testrepos.New(t)
	repo.CleanBranchChange(t, "feature/yaml-fix", "src/yaml/fix.yaml", "ok: true\n")
	repo.Checkout(t, "feature/yaml-fix")
	repo.RunGit(t, "branch", BranchName("feature/yaml-fix", ReasonGateFailure), "main")

	git, err := gitx.NewRunner(repo.Root)
	require.NoError(t, err)
	router, err := NewRouter(t.TempDir())
	require.NoError(t, err)

	ticket, err := router.Quarantine(context.Background(), Input{
		Git:    git,
		Branch: "feature/yaml-fix",
		Reason: ReasonGateFailure,
		Detail: "blocking gate lint failed",
	})
	require.NoError(t, err)
	require.True(t, repo.BranchExists(ticket.QuarantineBranch))
}

// TestBranchName pins the quarantine naming contract.
func TestBranchName(t *testing.T) {
	require.Equal(t, "needs-human/feature/x-fence-violation", BranchName("feature/x", ReasonFenceViolation))
}

// TestQuarantineRequiresBranchAndReason ensures input validation.
func TestQuarantineRequiresBranchAndReason(t *testing.T) {
	router, err := NewRouter(t.TempDir())
	require.NoError(t, err)

	_, err = router.Quarantine(context.Background(), Input{Reason: ReasonGateFailure})
	require.Error(t, err)
	_, err = router.Quarantine(context.Background(), Input{Branch: "feature/x"})
	require.Error(t, err)
}

// End-to-end tests for the merge state machine against real git repos.
package engine

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calebmills/mergetrain/internal/audit"
	"github.com/calebmills/mergetrain/internal/driver"
	"github.com/calebmills/mergetrain/internal/policy"
	"github.com/calebmills/mergetrain/internal/quarantine"
	"github.com/calebmills/mergetrain/internal/rescache"
	"github.com/calebmills/mergetrain/internal/testrepos"
	"github.com/calebmills/mergetrain/internal/worktree"
)

// testPolicy is the policy used by most machine tests.
const testPolicy = `
version: 1
path_strategies:
  - pattern: "package-lock.json"
    strategy: theirs
  - pattern: "config.json"
    strategy: structural-merge
  - pattern: "**/*.png"
    strategy: binary
  - pattern: "deps.txt"
    strategy: union
author_priority:
  - alice@example.com
fences:
  - workstream: "feature/json-*"
    paths:
      - "src/json/**"
`

// harness bundles a machine with its repo and collaborators.
type harness struct {
	repo    *testrepos.TempRepo
	machine *Machine
	cache   *rescache.Cache
	audit   string
}

// newHarness builds a machine over a fresh temp repo.
func newHarness(t *testing.T, policyText string, gates []policy.Gate, dryRun bool) *harness {
	t.Helper()
	repo := testrepos.New(t)

	registry := driver.NewRegistry()
	doc, err := policy.Parse([]byte(policyText), registry)
	require.NoError(t, err)
	doc.Gates = gates

	stateDir := worktree.LocalStateDir(repo.Root)
	cache, err := rescache.Open(filepath.Join(stateDir, "rescache"))
	require.NoError(t, err)
	auditPath := filepath.Join(stateDir, "audit.log")
	auditor, err := audit.NewLogger(auditPath, &bytes.Buffer{})
	require.NoError(t, err)
	router, err := quarantine.NewRouter(stateDir)
	require.NoError(t, err)

	machine, err := NewMachine(Config{
		RepoRoot: repo.Root,
		Target:   "main",
		Policy:   doc,
		Registry: registry,
		Cache:    cache,
		Auditor:  auditor,
		Router:   router,
		DryRun:   dryRun,
	})
	require.NoError(t, err)
	return &harness{repo: repo, machine: machine, cache: cache, audit: auditPath}
}

// events reads the machine's audit history.
func (h *harness) events(t *testing.T) []audit.Event {
	t.Helper()
	events, err := audit.Read(h.audit)
	require.NoError(t, err)
	return events
}

// TestCleanRebasePublishes ensures a non-conflicting branch lands on main.
func TestCleanRebasePublishes(t *testing.T) {
	h := newHarness(t, testPolicy, nil, false)
	h.repo.CleanBranchChange(t, "feature/docs", "docs/guide.md", "# Guide\n")

	attempt, err := h.machine.Run(context.Background(), "feature/docs")
	require.NoError(t, err)
	require.Equal(t, StatePublished, attempt.State)
	require.Equal(t, OutcomePublished, attempt.Outcome)
	require.Empty(t, attempt.ResolvedHunks)

	h.repo.Checkout(t, "main")
	require.Equal(t, "# Guide\n", h.repo.ReadFile(t, "docs/guide.md"))
	subject := h.repo.RunGit(t, "log", "-1", "--format=%s")
	require.Contains(t, subject, "mergetrain: merge feature/docs into main")
}

// TestDirtyTargetWorktreeAbortsPublish ensures uncommitted changes on the
// checked-out target are never destroyed by the publish reset.
func TestDirtyTargetWorktreeAbortsPublish(t *testing.T) {
	h := newHarness(t, testPolicy, nil, false)
	h.repo.CleanBranchChange(t, "feature/docs", "docs/guide.md", "# Guide\n")
	before := h.repo.BranchHead(t, "main")
	h.repo.WriteFile(t, "README.md", "# Local edits in progress\n")

	attempt, err := h.machine.Run(context.Background(), "feature/docs")
	require.NoError(t, err)
	require.Equal(t, OutcomeAborted, attempt.Outcome)
	require.ErrorContains(t, attempt.Err, "uncommitted changes")

	require.Equal(t, before, h.repo.BranchHead(t, "main"))
	require.Equal(t, "# Local edits in progress\n", h.repo.ReadFile(t, "README.md"))
}

// TestOursResolutionPublishesVerbatim ensures an ours resolution lands the
// branch side byte for byte, including leading blank lines and a missing
// trailing newline.
func TestOursResolutionPublishesVerbatim(t *testing.T) {
	const oursPolicy = `
version: 1
path_strategies:
  - pattern: "NOTES.txt"
    strategy: ours
`
	h := newHarness(t, oursPolicy, nil, false)
	branchContent := "\n\nleading blanks kept\nno trailing newline"
	h.repo.DivergentFile(t, "feature/notes", "NOTES.txt", "base line\n", branchContent, "target rewrite\n")

	attempt, err := h.machine.Run(context.Background(), "feature/notes")
	require.NoError(t, err)
	require.Equal(t, OutcomePublished, attempt.Outcome)

	h.repo.Checkout(t, "main")
	require.Equal(t, branchContent, h.repo.ReadFile(t, "NOTES.txt"))
}

// TestConflictResolvedByTheirs covers scenario A: a package-lock conflict
// with strategy theirs auto-applies the target side and publishes.
func TestConflictResolvedByTheirs(t *testing.T) {
	h := newHarness(t, testPolicy, nil, false)
	h.repo.DivergentFile(t, "feature/lockfile", "package-lock.json",
		"{\"version\":1}\n", "{\"version\":2}\n", "{\"version\":3}\n")

	attempt, err := h.machine.Run(context.Background(), "feature/lockfile")
	require.NoError(t, err)
	require.Equal(t, OutcomePublished, attempt.Outcome)
	require.Len(t, attempt.ResolvedHunks, 1)
	require.Equal(t, "theirs", attempt.ResolvedHunks[0].StrategyUsed)

	h.repo.Checkout(t, "main")
	require.Equal(t, "{\"version\":3}\n", h.repo.ReadFile(t, "package-lock.json"))
}

// TestStructuralMergeTheirsWins covers scenario B: conflicting scalar keys
// resolve with the target side winning.
func TestStructuralMergeTheirsWins(t *testing.T) {
	h := newHarness(t, testPolicy, nil, false)
	h.repo.DivergentFile(t, "feature/ports", "config.json",
		"{\"port\":8000}\n", "{\"port\":8080}\n", "{\"port\":9090}\n")

	attempt, err := h.machine.Run(context.Background(), "feature/ports")
	require.NoError(t, err)
	require.Equal(t, OutcomePublished, attempt.Outcome)

	h.repo.Checkout(t, "main")
	require.JSONEq(t, `{"port":9090}`, h.repo.ReadFile(t, "config.json"))
}

// TestBinaryConflictQuarantines covers scenario C: conflicting binaries are
// never auto-resolved and the ticket names the file.
func TestBinaryConflictQuarantines(t *testing.T) {
	h := newHarness(t, testPolicy, nil, false)
	h.repo.DivergentFile(t, "feature/logo", "assets/logo.png",
		"png-base\n", "png-ours\n", "png-theirs\n")
	mainBefore := h.repo.BranchHead(t, "main")

	attempt, err := h.machine.Run(context.Background(), "feature/logo")
	require.NoError(t, err)
	require.Equal(t, StateQuarantined, attempt.State)
	require.Equal(t, OutcomeQuarantined, attempt.Outcome)
	require.NotNil(t, attempt.Ticket)
	require.Equal(t, quarantine.ReasonUnresolvedConflict, attempt.Ticket.Reason)
	require.Contains(t, attempt.Ticket.Detail, "assets/logo.png")
	require.True(t, h.repo.BranchExists("needs-human/feature/logo-unresolved-conflict"))

	require.Equal(t, mainBefore, h.repo.BranchHead(t, "main"), "target must be unchanged")
}

// TestAtomicity ensures that when one hunk fails, already-resolvable hunks
// are not applied and nothing reaches the target.
func TestAtomicity(t *testing.T) {
	h := newHarness(t, testPolicy, nil, false)

	// One resolvable conflict and one binary conflict in the same commit.
	h.repo.Checkout(t, "main")
	h.repo.WriteFile(t, "package-lock.json", "{\"version\":1}\n")
	h.repo.WriteFile(t, "assets/logo.png", "png-base\n")
	h.repo.Commit(t, "Add base files", "package-lock.json", "assets/logo.png")

	h.repo.NewBranch(t, "feature/mixed", "main")
	h.repo.WriteFile(t, "package-lock.json", "{\"version\":2}\n")
	h.repo.WriteFile(t, "assets/logo.png", "png-ours\n")
	h.repo.Commit(t, "Branch changes", "package-lock.json", "assets/logo.png")

	h.repo.Checkout(t, "main")
	h.repo.WriteFile(t, "package-lock.json", "{\"version\":3}\n")
	h.repo.WriteFile(t, "assets/logo.png", "png-theirs\n")
	h.repo.Commit(t, "Main changes", "package-lock.json", "assets/logo.png")
	mainBefore := h.repo.BranchHead(t, "main")

	attempt, err := h.machine.Run(context.Background(), "feature/mixed")
	require.NoError(t, err)
	require.Equal(t, OutcomeQuarantined, attempt.Outcome)
	require.Equal(t, mainBefore, h.repo.BranchHead(t, "main"))
	require.Equal(t, "{\"version\":3}\n", h.repo.ReadFile(t, "package-lock.json"),
		"resolved hunk must not be partially applied")
}

// TestCacheHitSkipsDriver ensures an identical hunk on a second branch is
// replayed from the cache with strategyUsed "cache".
func TestCacheHitSkipsDriver(t *testing.T) {
	h := newHarness(t, testPolicy, nil, false)
	h.repo.DivergentFile(t, "feature/first", "deps.txt", "alpha\n", "alpha\nbeta\n", "alpha\ngamma\n")

	first, err := h.machine.Run(context.Background(), "feature/first")
	require.NoError(t, err)
	require.Equal(t, OutcomePublished, first.Outcome)
	require.Equal(t, "union", first.ResolvedHunks[0].StrategyUsed)

	// Rebuild the identical conflict on a second branch: rewind main to the
	// pre-merge tip and fork from the original base commit so the (base,
	// ours, theirs) triple is byte-identical.
	h.repo.Checkout(t, "main")
	h.repo.RunGit(t, "reset", "--hard", "HEAD~2")
	h.repo.NewBranch(t, "feature/second", "main~1")
	h.repo.WriteFile(t, "deps.txt", "alpha\nbeta\n")
	h.repo.Commit(t, "Same branch change", "deps.txt")
	h.repo.Checkout(t, "main")

	second, err := h.machine.Run(context.Background(), "feature/second")
	require.NoError(t, err)
	require.Equal(t, OutcomePublished, second.Outcome)
	require.Len(t, second.ResolvedHunks, 1)
	require.Equal(t, driver.StrategyCache, second.ResolvedHunks[0].StrategyUsed)
	require.Equal(t, first.ResolvedHunks[0].ResolvedContent, second.ResolvedHunks[0].ResolvedContent)
}

// TestGateOrderingShortCircuits ensures a blocking lint failure stops the
// gate sequence and the ticket cites lint.
func TestGateOrderingShortCircuits(t *testing.T) {
	gates := []policy.Gate{
		{Name: "lint", Command: "echo lint broke; exit 1", Blocking: true, TimeoutSeconds: 30},
		{Name: "test", Command: "true", Blocking: true, TimeoutSeconds: 30},
		{Name: "scan", Command: "true", Blocking: false, TimeoutSeconds: 30},
	}
	h := newHarness(t, testPolicy, gates, false)
	h.repo.CleanBranchChange(t, "feature/docs", "docs/guide.md", "# Guide\n")

	attempt, err := h.machine.Run(context.Background(), "feature/docs")
	require.NoError(t, err)
	require.Equal(t, OutcomeQuarantined, attempt.Outcome)
	require.Equal(t, quarantine.ReasonGateFailure, attempt.Ticket.Reason)
	require.Contains(t, attempt.Ticket.Detail, "lint")
	require.Len(t, attempt.GateResults, 1, "test and scan must never run")
}

// TestFenceViolationQuarantines ensures out-of-fence changes quarantine even
// when all hunks resolved and all gates passed.
func TestFenceViolationQuarantines(t *testing.T) {
	h := newHarness(t, testPolicy, nil, false)
	h.repo.Checkout(t, "main")
	h.repo.NewBranch(t, "feature/json-schema", "main")
	h.repo.WriteFile(t, "src/json/schema.json", "{}\n")
	h.repo.WriteFile(t, "src/yaml/foo.yaml", "a: 1\n")
	h.repo.Commit(t, "Touch json and yaml", "src/json/schema.json", "src/yaml/foo.yaml")
	h.repo.Checkout(t, "main")

	attempt, err := h.machine.Run(context.Background(), "feature/json-schema")
	require.NoError(t, err)
	require.Equal(t, OutcomeQuarantined, attempt.Outcome)
	require.Equal(t, quarantine.ReasonFenceViolation, attempt.Ticket.Reason)
	require.Contains(t, attempt.Ticket.Detail, "src/yaml/foo.yaml")
	require.NotContains(t, attempt.Ticket.Detail, "src/json/schema.json")
}

// TestDryRunMutatesNothing ensures dry runs predict without touching the
// target, the cache, or quarantine branches.
func TestDryRunMutatesNothing(t *testing.T) {
	h := newHarness(t, testPolicy, nil, true)
	h.repo.DivergentFile(t, "feature/logo", "assets/logo.png",
		"png-base\n", "png-ours\n", "png-theirs\n")
	mainBefore := h.repo.BranchHead(t, "main")

	attempt, err := h.machine.Run(context.Background(), "feature/logo")
	require.NoError(t, err)
	require.Equal(t, OutcomeQuarantined, attempt.Outcome)
	require.False(t, h.repo.BranchExists("needs-human/feature/logo-unresolved-conflict"))
	require.Equal(t, mainBefore, h.repo.BranchHead(t, "main"))

	count, err := h.cache.Len()
	require.NoError(t, err)
	require.Equal(t, 0, count)

	for _, event := range h.events(t) {
		require.True(t, event.DryRun, "dry-run events must be marked")
	}
}

// TestAuditTrailCoversDecisions ensures resolutions and outcomes are recorded.
func TestAuditTrailCoversDecisions(t *testing.T) {
	h := newHarness(t, testPolicy, nil, false)
	h.repo.DivergentFile(t, "feature/lockfile", "package-lock.json",
		"{\"version\":1}\n", "{\"version\":2}\n", "{\"version\":3}\n")

	_, err := h.machine.Run(context.Background(), "feature/lockfile")
	require.NoError(t, err)

	events := h.events(t)
	var sawResolved, sawSuccess bool
	for _, event := range events {
		if event.Result == audit.ResultResolved && event.File == "package-lock.json" && event.RuleApplied == "theirs" {
			sawResolved = true
		}
		if event.Result == audit.ResultSuccess {
			sawSuccess = true
		}
	}
	require.True(t, sawResolved, "expected a resolved event for package-lock.json: %+v", events)
	require.True(t, sawSuccess, "expected a success event: %+v", events)
	for i, event := range events {
		require.Equal(t, uint64(i+1), event.Sequence, "audit ordering must be total")
	}
}

// TestUnmatchedPathQuarantines ensures a conflict with no strategy rule is
// never silently merged.
func TestUnmatchedPathQuarantines(t *testing.T) {
	h := newHarness(t, testPolicy, nil, false)
	h.repo.DivergentFile(t, "feature/source", "src/main.go",
		"package main\n", "package main\n\nvar a = 1\n", "package main\n\nvar b = 2\n")

	attempt, err := h.machine.Run(context.Background(), "feature/source")
	require.NoError(t, err)
	require.Equal(t, OutcomeQuarantined, attempt.Outcome)
	require.Contains(t, attempt.Ticket.Detail, "src/main.go")
}

// TestWorktreesCleanedUp ensures no attempt worktrees linger after runs.
func TestWorktreesCleanedUp(t *testing.T) {
	h := newHarness(t, testPolicy, nil, false)
	h.repo.CleanBranchChange(t, "feature/docs", "docs/guide.md", "# Guide\n")

	_, err := h.machine.Run(context.Background(), "feature/docs")
	require.NoError(t, err)

	listing := h.repo.RunGit(t, "worktree", "list")
	require.NotContains(t, listing, "_local-state", "attempt worktrees must be removed: %s", listing)
	require.Empty(t, h.repo.RunGit(t, "branch", "--list", "mergetrain/attempt/*"),
		"attempt branches must be deleted")
}

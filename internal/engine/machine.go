package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/calebmills/mergetrain/internal/audit"
	"github.com/calebmills/mergetrain/internal/driver"
	"github.com/calebmills/mergetrain/internal/fence"
	"github.com/calebmills/mergetrain/internal/gate"
	"github.com/calebmills/mergetrain/internal/gitx"
	"github.com/calebmills/mergetrain/internal/hunk"
	"github.com/calebmills/mergetrain/internal/policy"
	"github.com/calebmills/mergetrain/internal/quarantine"
	"github.com/calebmills/mergetrain/internal/rescache"
	"github.com/calebmills/mergetrain/internal/worktree"
)

// Config wires the collaborators one machine needs.
type Config struct {
	RepoRoot string
	// Target is the trunk branch attempts land on.
	Target string
	// Remote, when set, is fetched before rebasing and pushed on publish.
	// Empty means a purely local train.
	Remote   string
	Policy   policy.Document
	Registry *driver.Registry
	Cache    *rescache.Cache
	Auditor  *audit.Logger
	Router   *quarantine.Router
	Warn     func(string)
	// DryRun predicts outcomes without touching the cache, the target, or
	// quarantine branches.
	DryRun bool
}

// Machine runs merge attempts for single branches. One machine may process
// many branches; each Run owns its attempt exclusively.
type Machine struct {
	cfg       Config
	rootGit   gitx.Runner
	worktrees worktree.Manager
}

// NewMachine validates the configuration and builds a machine.
func NewMachine(cfg Config) (*Machine, error) {
	if strings.TrimSpace(cfg.RepoRoot) == "" {
		return nil, errors.New("repo root is required")
	}
	if strings.TrimSpace(cfg.Target) == "" {
		return nil, errors.New("target branch is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("driver registry is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("resolution cache is required")
	}
	if cfg.Auditor == nil {
		return nil, errors.New("audit logger is required")
	}
	if cfg.Router == nil {
		return nil, errors.New("quarantine router is required")
	}

	rootGit, err := gitx.NewRunner(cfg.RepoRoot)
	if err != nil {
		return nil, err
	}
	worktrees, err := worktree.NewManager(cfg.RepoRoot)
	if err != nil {
		return nil, err
	}
	return &Machine{cfg: cfg, rootGit: rootGit, worktrees: worktrees}, nil
}

// Run drives one branch from Fetching to a terminal state. Failures are
// contained in the returned attempt; the error return is reserved for
// misuse (empty branch name).
func (m *Machine) Run(ctx context.Context, branch string) (*Attempt, error) {
	if strings.TrimSpace(branch) == "" {
		return nil, errors.New("branch is required")
	}

	attempt := &Attempt{
		Branch:    branch,
		TargetRef: m.cfg.Target,
		State:     StateFetching,
	}

	targetRef, err := m.fetch(ctx)
	if err != nil {
		m.abort(attempt, fmt.Errorf("fetch target: %w", err))
		return attempt, nil
	}

	if base, baseErr := m.rootGit.Output(ctx, "merge-base", targetRef, branch); baseErr == nil {
		attempt.BaseRef = base
	}

	wt, err := m.worktrees.Create(ctx, branch)
	if err != nil {
		m.abort(attempt, fmt.Errorf("create attempt worktree: %w", err))
		return attempt, nil
	}
	defer func() {
		if removeErr := m.worktrees.Remove(context.WithoutCancel(ctx), wt); removeErr != nil {
			m.warnf("cleanup worktree for %s: %v", branch, removeErr)
		}
	}()

	wtGit, err := gitx.NewRunner(wt.Path)
	if err != nil {
		m.abort(attempt, err)
		return attempt, nil
	}

	attempt.transition(StateRebasing)
	m.rebase(ctx, attempt, wtGit, targetRef)
	if attempt.State.IsTerminal() {
		return attempt, nil
	}

	m.verify(ctx, attempt, wtGit, targetRef)
	if attempt.State.IsTerminal() {
		return attempt, nil
	}

	m.publish(ctx, attempt, wtGit)
	return attempt, nil
}

// fetch syncs the local view of the target and returns the ref to rebase onto.
func (m *Machine) fetch(ctx context.Context) (string, error) {
	if m.cfg.Remote != "" {
		if err := m.rootGit.Run(ctx, "fetch", m.cfg.Remote, m.cfg.Target); err != nil {
			return "", err
		}
		return m.cfg.Remote + "/" + m.cfg.Target, nil
	}
	exists, err := m.rootGit.BranchExists(ctx, m.cfg.Target)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("target branch %s does not exist", m.cfg.Target)
	}
	return m.cfg.Target, nil
}

// pendingResolution buffers a driver resolution until the attempt reaches
// Verifying, so the cache never records hunks from attempts that failed later.
type pendingResolution struct {
	contentHash string
	content     string
	strategy    string
}

// rebase replays the branch onto the target, resolving conflicts per policy.
func (m *Machine) rebase(ctx context.Context, attempt *Attempt, wtGit gitx.Runner, targetRef string) {
	rebaseErr := wtGit.Run(ctx, "rebase", targetRef)
	if rebaseErr == nil {
		attempt.transition(StateVerifying)
		return
	}
	if !gitx.IsConflict(rebaseErr) {
		_ = wtGit.Run(ctx, "rebase", "--abort")
		m.abort(attempt, fmt.Errorf("rebase failed: %w", rebaseErr))
		return
	}

	attempt.transition(StateConflictResolution)
	var pending []pendingResolution

	for {
		hunks, err := hunk.Collect(ctx, wtGit, true)
		if err != nil {
			_ = wtGit.Run(ctx, "rebase", "--abort")
			m.abort(attempt, fmt.Errorf("collect conflict hunks: %w", err))
			return
		}

		resolved := make(map[string]string, len(hunks))
		for _, conflict := range hunks {
			content, record, failure := m.resolveHunk(ctx, attempt, conflict, &pending)
			if failure != nil {
				// All-or-nothing: one unresolved hunk fails the whole
				// attempt, nothing resolved so far is applied.
				_ = wtGit.Run(ctx, "rebase", "--abort")
				m.quarantine(ctx, attempt, wtGit, quarantine.ReasonUnresolvedConflict, failure.Error(), nil)
				return
			}
			resolved[conflict.FilePath] = content
			attempt.ResolvedHunks = append(attempt.ResolvedHunks, record)
		}

		for path, content := range resolved {
			full := filepath.Join(wtGit.Dir(), path)
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				_ = wtGit.Run(ctx, "rebase", "--abort")
				m.abort(attempt, fmt.Errorf("apply resolution for %s: %w", path, err))
				return
			}
			if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
				_ = wtGit.Run(ctx, "rebase", "--abort")
				m.abort(attempt, fmt.Errorf("apply resolution for %s: %w", path, err))
				return
			}
			if err := wtGit.Run(ctx, "add", path); err != nil {
				_ = wtGit.Run(ctx, "rebase", "--abort")
				m.abort(attempt, fmt.Errorf("stage resolution for %s: %w", path, err))
				return
			}
		}

		continueErr := wtGit.Run(ctx, "-c", "core.editor=true", "rebase", "--continue")
		if continueErr == nil {
			break
		}
		if gitx.IsConflict(continueErr) {
			// The next commit in the replay surfaced its own conflicts.
			continue
		}
		_ = wtGit.Run(ctx, "rebase", "--abort")
		m.abort(attempt, fmt.Errorf("continue rebase: %w", continueErr))
		return
	}

	if !m.cfg.DryRun {
		for _, insert := range pending {
			if _, err := m.cfg.Cache.Insert(insert.contentHash, insert.content, insert.strategy); err != nil {
				m.warnf("persist resolution cache entry: %v", err)
			}
		}
	}
	attempt.transition(StateVerifying)
}

// resolveHunk resolves one hunk via the cache or the driver registry. The
// returned error is the per-hunk failure that quarantines the attempt.
func (m *Machine) resolveHunk(ctx context.Context, attempt *Attempt, conflict hunk.ConflictHunk, pending *[]pendingResolution) (string, rescache.Record, error) {
	contentHash := conflict.ContentHash()

	if record, hit, err := m.cfg.Cache.Lookup(contentHash); err != nil {
		m.warnf("resolution cache lookup: %v", err)
	} else if hit {
		replay := record
		replay.StrategyUsed = driver.StrategyCache
		m.audit(audit.Event{
			Branch:       attempt.Branch,
			File:         conflict.FilePath,
			ConflictType: "content",
			RuleApplied:  driver.StrategyCache,
			Result:       audit.ResultResolved,
			Notes:        "replayed " + record.StrategyUsed + " resolution " + shortHash(contentHash),
		})
		return record.ResolvedContent, replay, nil
	}

	entry, matched := m.cfg.Policy.StrategyFor(conflict.FilePath)
	if !matched {
		err := fmt.Errorf("no path strategy matches %s", conflict.FilePath)
		m.auditUnresolved(attempt, conflict, "", err)
		return "", rescache.Record{}, err
	}

	content, err := m.cfg.Registry.Resolve(ctx, conflict, entry.Strategy, entry.Params)
	if err != nil {
		m.auditUnresolved(attempt, conflict, entry.Strategy, err)
		return "", rescache.Record{}, fmt.Errorf("%s: %w", conflict.FilePath, err)
	}

	*pending = append(*pending, pendingResolution{
		contentHash: contentHash,
		content:     content,
		strategy:    entry.Strategy,
	})
	m.audit(audit.Event{
		Branch:       attempt.Branch,
		File:         conflict.FilePath,
		ConflictType: "content",
		RuleApplied:  entry.Strategy,
		Result:       audit.ResultResolved,
	})
	return content, rescache.Record{
		ContentHash:     contentHash,
		ResolvedContent: content,
		StrategyUsed:    entry.Strategy,
	}, nil
}

// verify runs gates in declared order, then the fence check.
func (m *Machine) verify(ctx context.Context, attempt *Attempt, wtGit gitx.Runner, targetRef string) {
	runner, err := gate.NewRunner(wtGit.Dir(), m.cfg.Warn)
	if err != nil {
		m.abort(attempt, err)
		return
	}

	results, gateErr := runner.RunAll(ctx, m.cfg.Policy.Gates)
	attempt.GateResults = results
	for _, result := range results {
		event := audit.Event{
			Branch: attempt.Branch,
			Gate:   result.Name,
			Result: audit.ResultGatePass,
		}
		if !result.Passed {
			event.Result = audit.ResultGateFail
			event.Notes = result.Output
		}
		m.audit(event)
	}
	var failure *gate.Failure
	if errors.As(gateErr, &failure) {
		detail := fmt.Sprintf("blocking gate %s failed: %s", failure.Gate, failure.Output)
		m.quarantine(ctx, attempt, wtGit, quarantine.ReasonGateFailure, detail, nil)
		return
	}

	changed, err := wtGit.Lines(ctx, "diff", "--name-only", targetRef, "HEAD")
	if err != nil {
		m.abort(attempt, fmt.Errorf("list changed files: %w", err))
		return
	}
	var violation *fence.Violation
	if err := fence.Check(m.cfg.Policy, attempt.Branch, changed); errors.As(err, &violation) {
		detail := fmt.Sprintf("paths outside declared ownership: %s", strings.Join(violation.OffendingPaths, ", "))
		m.quarantine(ctx, attempt, wtGit, quarantine.ReasonFenceViolation, detail, m.ownerHints(violation.OffendingPaths))
		return
	}

	attempt.transition(StatePublishing)
}

// publish writes the terminal marker commit and advances the target ref.
func (m *Machine) publish(ctx context.Context, attempt *Attempt, wtGit gitx.Runner) {
	message := fmt.Sprintf("mergetrain: merge %s into %s\n\n%s",
		attempt.Branch, m.cfg.Target, strategySummary(attempt.ResolvedHunks))
	if err := wtGit.Run(ctx, "commit", "--allow-empty", "-m", message); err != nil {
		m.abort(attempt, fmt.Errorf("write marker commit: %w", err))
		return
	}
	sha, err := wtGit.Head(ctx)
	if err != nil {
		m.abort(attempt, err)
		return
	}

	if m.cfg.DryRun {
		m.audit(audit.Event{
			Branch: attempt.Branch,
			Result: audit.ResultPredicted,
			Notes:  "would publish " + shortHash(sha) + " to " + m.cfg.Target,
		})
		attempt.transition(StatePublished)
		attempt.Outcome = OutcomePublished
		return
	}

	if m.cfg.Remote != "" {
		if err := wtGit.Run(ctx, "push", m.cfg.Remote, "HEAD:refs/heads/"+m.cfg.Target); err != nil {
			m.abort(attempt, fmt.Errorf("push to %s: %w", m.cfg.Remote, err))
			return
		}
	}
	if err := m.advanceLocalTarget(ctx, sha); err != nil {
		m.abort(attempt, fmt.Errorf("advance local target: %w", err))
		return
	}

	m.audit(audit.Event{
		Branch: attempt.Branch,
		Result: audit.ResultSuccess,
		Notes:  "published " + shortHash(sha) + " to " + m.cfg.Target,
	})
	attempt.transition(StatePublished)
	attempt.Outcome = OutcomePublished
}

// workspaceDirPrefix is the engine-owned directory exempt from the clean
// worktree check before a publish reset.
const workspaceDirPrefix = "_mergetrain/"

// advanceLocalTarget moves the local target branch to the merged commit.
// When the target is checked out in the main worktree it is hard-reset so
// the working copy follows the ref; uncommitted user changes there fail the
// attempt instead of being destroyed.
func (m *Machine) advanceLocalTarget(ctx context.Context, sha string) error {
	current, err := m.rootGit.Output(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return err
	}
	if current == m.cfg.Target {
		if err := m.rootGit.EnsureClean(ctx, workspaceDirPrefix); err != nil {
			return err
		}
		return m.rootGit.Run(ctx, "reset", "--hard", sha)
	}
	return m.rootGit.Run(ctx, "update-ref", "refs/heads/"+m.cfg.Target, sha)
}

// quarantine routes the attempt to the needs-human branch and finalizes it.
func (m *Machine) quarantine(ctx context.Context, attempt *Attempt, wtGit gitx.Runner, reason quarantine.Reason, detail string, ownerHints []string) {
	if m.cfg.DryRun {
		m.audit(audit.Event{
			Branch: attempt.Branch,
			Result: audit.ResultPredicted,
			Notes:  fmt.Sprintf("would quarantine (%s): %s", reason, detail),
		})
		attempt.transition(StateQuarantined)
		attempt.Outcome = OutcomeQuarantined
		attempt.Ticket = &quarantine.Ticket{
			OriginalBranch:   attempt.Branch,
			QuarantineBranch: quarantine.BranchName(attempt.Branch, reason),
			Reason:           reason,
			Detail:           detail,
			OwnerHints:       ownerHints,
		}
		return
	}

	ticket, err := m.cfg.Router.Quarantine(ctx, quarantine.Input{
		Git:        wtGit,
		Branch:     attempt.Branch,
		Reason:     reason,
		Detail:     detail,
		OwnerHints: ownerHints,
	})
	if err != nil {
		// Even the quarantine branch could not be created: escalate.
		m.audit(audit.Event{
			Branch: attempt.Branch,
			Result: audit.ResultCritical,
			Notes:  fmt.Sprintf("quarantine failed (%s): %v", reason, err),
		})
		m.abort(attempt, fmt.Errorf("quarantine branch creation: %w", err))
		return
	}

	m.audit(audit.Event{
		Branch: attempt.Branch,
		Result: audit.ResultQuarantined,
		Notes:  fmt.Sprintf("%s: %s (branch %s)", reason, detail, ticket.QuarantineBranch),
	})
	attempt.transition(StateQuarantined)
	attempt.Outcome = OutcomeQuarantined
	attempt.Ticket = &ticket
}

// abort finalizes the attempt after an infrastructure failure.
func (m *Machine) abort(attempt *Attempt, err error) {
	attempt.Err = err
	m.audit(audit.Event{
		Branch: attempt.Branch,
		Result: audit.ResultAborted,
		Notes:  err.Error(),
	})
	attempt.transition(StateAborted)
	attempt.Outcome = OutcomeAborted
}

// ownerHints derives review hints from the fences owning the offending paths.
func (m *Machine) ownerHints(paths []string) []string {
	seen := map[string]struct{}{}
	var hints []string
	for _, entry := range m.cfg.Policy.Fences {
		for _, allowed := range entry.Allowed {
			for _, path := range paths {
				if allowed.Match(path) {
					key := entry.Workstream.String()
					if _, dup := seen[key]; !dup {
						seen[key] = struct{}{}
						hints = append(hints, "workstream "+key)
					}
				}
			}
		}
	}
	if len(hints) == 0 && len(m.cfg.Policy.AuthorPriority) > 0 {
		hints = append(hints, m.cfg.Policy.AuthorPriority[0])
	}
	return hints
}

// auditUnresolved records one hunk the drivers could not resolve.
func (m *Machine) auditUnresolved(attempt *Attempt, conflict hunk.ConflictHunk, strategy string, err error) {
	m.audit(audit.Event{
		Branch:       attempt.Branch,
		File:         conflict.FilePath,
		ConflictType: "content",
		RuleApplied:  strategy,
		Result:       audit.ResultUnresolved,
		Notes:        err.Error(),
	})
}

// audit appends an event, tagging dry runs.
func (m *Machine) audit(event audit.Event) {
	event.DryRun = m.cfg.DryRun
	if err := m.cfg.Auditor.Append(event); err != nil {
		m.warnf("audit append: %v", err)
	}
}

// warnf sends an operational warning to the configured sink.
func (m *Machine) warnf(format string, args ...any) {
	if m.cfg.Warn != nil {
		m.cfg.Warn(fmt.Sprintf(format, args...))
	}
}

// strategySummary renders the marker-commit summary of applied strategies.
func strategySummary(records []rescache.Record) string {
	if len(records) == 0 {
		return "clean rebase, no conflicts"
	}
	counts := map[string]int{}
	for _, record := range records {
		counts[record.StrategyUsed]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s x%d", name, counts[name]))
	}
	return "resolved hunks: " + strings.Join(parts, ", ")
}

// shortHash abbreviates a hash for notes.
func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/calebmills/mergetrain/internal/attributes"
	"github.com/calebmills/mergetrain/internal/audit"
	"github.com/calebmills/mergetrain/internal/bootstrap"
	"github.com/calebmills/mergetrain/internal/cyclelock"
	"github.com/calebmills/mergetrain/internal/driver"
	"github.com/calebmills/mergetrain/internal/engine"
	"github.com/calebmills/mergetrain/internal/policy"
	"github.com/calebmills/mergetrain/internal/quarantine"
	"github.com/calebmills/mergetrain/internal/repo"
	"github.com/calebmills/mergetrain/internal/rescache"
	"github.com/calebmills/mergetrain/internal/scheduler"
	"github.com/calebmills/mergetrain/internal/worktree"
)

// cycleOptions carries the shared flags of run and dry-run.
type cycleOptions struct {
	policyPath  string
	target      string
	remote      string
	maxParallel int
}

// registerCycleFlags attaches the shared cycle flags to a command.
func registerCycleFlags(cmd *cobra.Command, opts *cycleOptions) {
	cmd.Flags().StringVar(&opts.policyPath, "policy", "", "Policy file (default: _mergetrain/policy.yaml)")
	cmd.Flags().StringVar(&opts.target, "target", "main", "Target trunk branch attempts land on")
	cmd.Flags().StringVar(&opts.remote, "remote", "", "Remote to fetch from and push to (empty: purely local train)")
	cmd.Flags().IntVar(&opts.maxParallel, "max-parallel", 4, "Worker pool size for fence-disjoint branches")
}

func newRunCmd(repoOverride *string) *cobra.Command {
	opts := &cycleOptions{}
	cmd := &cobra.Command{
		Use:   "run <branch>...",
		Short: "Run one merge-train cycle over the given branches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd, *repoOverride, opts, args, false)
		},
	}
	registerCycleFlags(cmd, opts)
	return cmd
}

func newDryRunCmd(repoOverride *string) *cobra.Command {
	opts := &cycleOptions{}
	cmd := &cobra.Command{
		Use:   "dry-run <branch>...",
		Short: "Predict cycle outcomes without mutating the repository",
		Long:  "Rebases each branch in a throwaway worktree and reports what a real cycle would do. Nothing is pushed, no cache entries are written, and no quarantine branches are created. Allowed even when the train is disabled.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd, *repoOverride, opts, args, true)
		},
	}
	registerCycleFlags(cmd, opts)
	return cmd
}

// runCycle drives one cycle end to end and maps outcomes to exit codes.
func runCycle(cmd *cobra.Command, repoOverride string, opts *cycleOptions, branches []string, dryRun bool) error {
	repoRoot, err := repo.Discover(repoOverride)
	if err != nil {
		return err
	}

	registry := driver.NewRegistry()
	policyPath := opts.policyPath
	if policyPath == "" {
		policyPath = bootstrap.PolicyPath(repoRoot)
	}
	doc, err := policy.Load(policyPath, registry)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("load policy %s: %w", policyPath, err)}
	}

	if !dryRun {
		enabled, err := cyclelock.Enabled(repoRoot)
		if err != nil {
			return err
		}
		if !enabled {
			fmt.Fprintln(cmd.OutOrStdout(), "train disabled (manual-only mode); run `mergetrain init --enable` to resume")
			return nil
		}
		lock, err := cyclelock.Acquire(repoRoot)
		if err != nil {
			return &ExitError{Code: ExitNeedsAttention, Err: err}
		}
		defer func() {
			if releaseErr := lock.Release(); releaseErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: release cycle lock: %v\n", releaseErr)
			}
		}()

		if err := attributes.Sync(filepath.Join(repoRoot, attributes.FileName), doc); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
	}

	warn := func(message string) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", message)
	}

	stateDir := worktree.LocalStateDir(repoRoot)
	cache, err := rescache.Open(filepath.Join(stateDir, "rescache"))
	if err != nil {
		return err
	}
	auditor, err := audit.NewLogger(audit.LogPath(stateDir), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	router, err := quarantine.NewRouter(stateDir)
	if err != nil {
		return err
	}

	machine, err := engine.NewMachine(engine.Config{
		RepoRoot: repoRoot,
		Target:   opts.target,
		Remote:   opts.remote,
		Policy:   doc,
		Registry: registry,
		Cache:    cache,
		Auditor:  auditor,
		Router:   router,
		Warn:     warn,
		DryRun:   dryRun,
	})
	if err != nil {
		return err
	}
	sched, err := scheduler.New(doc, machine, opts.maxParallel, warn)
	if err != nil {
		return err
	}

	summary, err := sched.RunCycle(cmd.Context(), branches)
	if err != nil {
		return &ExitError{Code: ExitNeedsAttention, Err: err}
	}

	printCycleSummary(cmd, summary, dryRun)
	if !summary.AllPublished() {
		return &ExitError{Code: ExitNeedsAttention, Err: fmt.Errorf("%d of %d branches need attention",
			summary.Quarantined+summary.Aborted, len(summary.Results))}
	}
	return nil
}

// printCycleSummary writes the per-branch outcomes and cycle totals.
func printCycleSummary(cmd *cobra.Command, summary scheduler.Summary, dryRun bool) {
	out := cmd.OutOrStdout()
	for _, result := range summary.Results {
		switch {
		case result.Err != nil:
			fmt.Fprintf(out, "%s: aborted (%v)\n", result.Branch, result.Err)
		case result.Attempt.Outcome == engine.OutcomeQuarantined && result.Attempt.Ticket != nil:
			fmt.Fprintf(out, "%s: quarantined (%s) -> %s\n",
				result.Branch, result.Attempt.Ticket.Reason, result.Attempt.Ticket.QuarantineBranch)
		case result.Attempt.Outcome == engine.OutcomeAborted:
			fmt.Fprintf(out, "%s: aborted (%v)\n", result.Branch, result.Attempt.Err)
		default:
			fmt.Fprintf(out, "%s: %s (%d hunks resolved)\n",
				result.Branch, result.Attempt.Outcome, len(result.Attempt.ResolvedHunks))
		}
	}
	mode := "cycle"
	if dryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(out, "%s complete: published=%d quarantined=%d aborted=%d\n",
		mode, summary.Published, summary.Quarantined, summary.Aborted)
}

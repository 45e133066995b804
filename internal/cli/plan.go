package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calebmills/mergetrain/internal/bootstrap"
	"github.com/calebmills/mergetrain/internal/dag"
	"github.com/calebmills/mergetrain/internal/driver"
	"github.com/calebmills/mergetrain/internal/policy"
	"github.com/calebmills/mergetrain/internal/repo"
	"github.com/calebmills/mergetrain/internal/scheduler"
)

func newPlanCmd(repoOverride *string) *cobra.Command {
	var policyPath string
	cmd := &cobra.Command{
		Use:   "plan <branch>...",
		Short: "Show the wave schedule a cycle would use for the given branches",
		Long:  "Partitions the branches into fence-disjoint waves under the current policy and prints the resulting schedule. No attempts run and nothing is mutated.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoRoot, err := repo.Discover(*repoOverride)
			if err != nil {
				return err
			}
			if policyPath == "" {
				policyPath = bootstrap.PolicyPath(repoRoot)
			}
			doc, err := policy.Load(policyPath, driver.NewRegistry())
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: fmt.Errorf("load policy %s: %w", policyPath, err)}
			}

			waves := scheduler.PlanWaves(doc, args)
			fmt.Fprint(cmd.OutOrStdout(), dag.GetSummary(doc, waves).String())
			return nil
		},
	}
	cmd.Flags().StringVar(&policyPath, "policy", "", "Policy file (default: _mergetrain/policy.yaml)")
	return cmd
}

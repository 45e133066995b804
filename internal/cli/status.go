package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calebmills/mergetrain/internal/repo"
	"github.com/calebmills/mergetrain/internal/status"
	"github.com/calebmills/mergetrain/internal/tui"
)

func newStatusCmd(repoOverride *string) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show branch outcomes and open quarantine tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			repoRoot, err := repo.Discover(*repoOverride)
			if err != nil {
				return err
			}
			if watch {
				return tui.Run(repoRoot)
			}

			summary, err := status.GetSummary(repoRoot)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Live-updating interactive view")
	return cmd
}

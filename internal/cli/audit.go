package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calebmills/mergetrain/internal/audit"
	"github.com/calebmills/mergetrain/internal/repo"
	"github.com/calebmills/mergetrain/internal/worktree"
)

func newAuditCmd(repoOverride *string) *cobra.Command {
	var branch string
	var tail int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the append-only decision log",
		RunE: func(cmd *cobra.Command, args []string) error {
			repoRoot, err := repo.Discover(*repoOverride)
			if err != nil {
				return err
			}

			events, err := audit.Read(audit.LogPath(worktree.LocalStateDir(repoRoot)))
			if err != nil {
				return err
			}
			if branch != "" {
				events = audit.FilterBranch(events, branch)
			}
			if tail > 0 && len(events) > tail {
				events = events[len(events)-tail:]
			}

			out := cmd.OutOrStdout()
			for _, event := range events {
				line, err := json.Marshal(event)
				if err != nil {
					return fmt.Errorf("encode audit event %d: %w", event.Sequence, err)
				}
				fmt.Fprintln(out, string(line))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Only events for this branch")
	cmd.Flags().IntVar(&tail, "tail", 0, "Only the last N events (0: all)")
	return cmd
}

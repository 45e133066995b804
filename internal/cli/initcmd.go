package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calebmills/mergetrain/internal/bootstrap"
	"github.com/calebmills/mergetrain/internal/cyclelock"
	"github.com/calebmills/mergetrain/internal/repo"
)

func newInitCmd(repoOverride *string) *cobra.Command {
	var force bool
	var enable bool
	var disable bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold the _mergetrain workspace and manage the kill switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if enable && disable {
				return errors.New("--enable and --disable are mutually exclusive")
			}
			repoRoot, err := repo.Discover(*repoOverride)
			if err != nil {
				return err
			}

			result, err := bootstrap.Run(repoRoot, bootstrap.Options{Force: force})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, path := range result.Written {
				fmt.Fprintf(out, "wrote %s\n", path)
			}
			for _, path := range result.Skipped {
				fmt.Fprintf(out, "kept %s\n", path)
			}

			switch {
			case enable:
				if err := cyclelock.Enable(repoRoot); err != nil {
					return err
				}
				fmt.Fprintln(out, "train enabled")
			case disable:
				if err := cyclelock.Disable(repoRoot); err != nil {
					return err
				}
				fmt.Fprintln(out, "train disabled (manual-only mode)")
			default:
				enabled, err := cyclelock.Enabled(repoRoot)
				if err != nil {
					return err
				}
				if !enabled {
					fmt.Fprintln(out, "train is in manual-only mode; pass --enable to let cycles run")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing workspace artifacts with seed content")
	cmd.Flags().BoolVar(&enable, "enable", false, "Create the kill-switch sentinel so cycles may run")
	cmd.Flags().BoolVar(&disable, "disable", false, "Remove the kill-switch sentinel (manual-only mode)")
	return cmd
}

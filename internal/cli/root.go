// Package cli wires the mergetrain command surface.
package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes reported by the CLI. Zero means every attempt published.
const (
	// ExitNeedsAttention signals at least one quarantined or aborted attempt.
	ExitNeedsAttention = 1
	// ExitUsage signals a usage or policy failure before any attempt ran.
	ExitUsage = 2
)

// ExitError carries a specific process exit code through cobra.
type ExitError struct {
	Code int
	Err  error
}

// Error renders the wrapped error.
func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error for errors.Is/As.
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsage
}

// NewRootCmd builds the mergetrain root command.
func NewRootCmd(version string) *cobra.Command {
	var repoOverride string

	cmd := &cobra.Command{
		Use:           "mergetrain",
		Short:         "Deterministic merge-train orchestration",
		Long:          "mergetrain rebases ready branches onto the target trunk, resolves conflicts by declared policy, verifies the result through gates, and quarantines anything it cannot integrate safely.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&repoOverride, "repo", "", "Repository path (default: discovered from the working directory)")

	cmd.AddCommand(newRunCmd(&repoOverride))
	cmd.AddCommand(newDryRunCmd(&repoOverride))
	cmd.AddCommand(newPlanCmd(&repoOverride))
	cmd.AddCommand(newAuditCmd(&repoOverride))
	cmd.AddCommand(newStatusCmd(&repoOverride))
	cmd.AddCommand(newInitCmd(&repoOverride))
	cmd.AddCommand(newVersionCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}

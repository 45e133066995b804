package main

import (
	"context"
	"fmt"
	"os"

	"github.com/calebmills/mergetrain/internal/buildinfo"
	"github.com/calebmills/mergetrain/internal/cli"
)

// Run executes the root command and maps errors to process exit codes.
func Run(ctx context.Context, args []string) int {
	root := cli.NewRootCmd(buildinfo.Version)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return cli.ExitCode(err)
	}
	return 0
}

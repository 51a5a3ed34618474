// Package main is the entry point for the instance orchestrator.
//
// Commands: worker, enqueue, keygen.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

func main() {
	if err := Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Root returns the root command
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Deploy, start, stop and restart cloud instances from a job queue",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(Worker())
	cmd.AddCommand(Enqueue())
	cmd.AddCommand(Keygen())

	return cmd
}

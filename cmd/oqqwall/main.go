package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "oqqwall.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oqqwall",
		Short: "OQQWall submission dispatch and staging",
		Long:  "OQQWall stages approved wall submissions per account group and flushes them as combined posts through the Sender Service.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunTagCmd())
	cmd.AddCommand(newHandleConnCmd())
	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newStagedCmd())
	cmd.AddCommand(newFlushCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "oqqwall %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}

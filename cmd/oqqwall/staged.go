package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/gfhdhytghd/oqqwall/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newStagedCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "staged <group>",
		Short: "List a group's staged submissions",
		Long:  "Prints an aligned table on a terminal and tab-separated rows otherwise.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runStaged(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OQQWall config file")
	return cmd
}

func runStaged(cmd *cobra.Command, configPath, group string) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.newEngine(a.cfg).Staged(cmd.Context(), group)
	if err != nil {
		return err
	}
	writeStaged(cmd.OutOrStdout(), rows, isTerminal(cmd.OutOrStdout()))
	return nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func writeStaged(w io.Writer, rows []models.StagingRow, pretty bool) {
	if !pretty {
		for _, r := range rows {
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", r.Tag, r.SenderID, r.ReceiverID, r.NeedPriv(), r.CommentText())
		}
		return
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No pending posts.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TAG\tSENDER\tRECEIVER\tNEEDPRIV\tCOMMENT")
	fmt.Fprintln(tw, strings.Repeat("-", 3)+"\t"+strings.Repeat("-", 6)+"\t"+strings.Repeat("-", 8)+"\t"+strings.Repeat("-", 8)+"\t"+strings.Repeat("-", 7))
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", r.Tag, r.SenderID, r.ReceiverID, r.NeedPriv(), r.CommentText())
	}
	tw.Flush()
	fmt.Fprintf(w, "%d staged\n", len(rows))
}

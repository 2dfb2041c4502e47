package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/gfhdhytghd/oqqwall/internal/models"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history <group>",
		Short: "Show recent flush attempts for a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runHistory(cmd, configPath, args[0], limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OQQWall config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show (0 for all)")
	return cmd
}

func runHistory(cmd *cobra.Command, configPath, group string, limit int) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.cfg.Group(group); !ok {
		return fmt.Errorf("group %q is not configured", group)
	}
	recs, err := a.store.History(cmd.Context(), group, limit)
	if err != nil {
		return err
	}
	writeHistory(cmd.OutOrStdout(), recs)
	return nil
}

func writeHistory(w io.Writer, recs []models.FlushRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No flush history.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSTATUS\tTRIGGER\tPRIO\tTAGS\tATTEMPTS\tPAYLOADS\tERROR")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%d\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.Trigger, r.Priority,
			r.Tags, r.Attempts, r.Payloads, r.LastError)
	}
	tw.Flush()
}

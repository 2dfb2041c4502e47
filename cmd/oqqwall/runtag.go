package main

import (
	"fmt"
	"strconv"

	"github.com/gfhdhytghd/oqqwall/internal/crashlog"
	"github.com/gfhdhytghd/oqqwall/internal/dispatch"
	"github.com/spf13/cobra"
)

func newRunTagCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run-tag <tag> <priority> <mode>",
		Short: "Stage a classified submission and flush when due",
		Long: "Reads the classified submission for <tag>, stages it in its group and flushes the group when\n" +
			"<mode> is \"now\" or the staged count reached max_post_stack. <mode> is stacking or now.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || tag < 0 {
				return fmt.Errorf("invalid tag %q", args[0])
			}
			priority, err := strconv.Atoi(args[1])
			if err != nil || priority < 0 {
				return fmt.Errorf("invalid priority %q: must be a non-negative integer", args[1])
			}
			mode, err := dispatch.ParseMode(args[2])
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return runRunTag(cmd, configPath, tag, priority, mode)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OQQWall config file")
	return cmd
}

func runRunTag(cmd *cobra.Command, configPath string, tag int64, priority int, mode dispatch.Mode) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	sub, err := a.store.Submission(ctx, tag)
	if err != nil {
		a.crash.Append(crashlog.Entry{Tags: []int64{tag}, Cause: crashlog.CauseStaging, Detail: err.Error()})
		return err
	}

	out, err := a.newEngine(a.cfg).Enqueue(ctx, sub, mode, priority)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %v\n", out.Group, out.State, out.Tags)
	return nil
}

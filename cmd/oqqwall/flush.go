package main

import (
	"errors"
	"fmt"

	"github.com/gfhdhytghd/oqqwall/internal/control"
	"github.com/gfhdhytghd/oqqwall/internal/dispatch"
	"github.com/spf13/cobra"
)

func newFlushCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "flush <group>",
		Short: "Flush a group's staged submissions now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runFlush(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OQQWall config file")
	return cmd
}

func runFlush(cmd *cobra.Command, configPath, group string) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	l := control.NewListener(a.newEngine(a.cfg), a.crash, a.log)
	reply := l.Run(cmd.Context(), group, dispatch.TriggerCommand)
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	if reply == control.ReplyFailed {
		return errors.New("flush failed")
	}
	return nil
}

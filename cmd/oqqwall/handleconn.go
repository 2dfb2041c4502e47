package main

import (
	"errors"
	"fmt"

	"github.com/gfhdhytghd/oqqwall/internal/control"
	"github.com/spf13/cobra"
)

func newHandleConnCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "handle-conn",
		Short: "Handle one control command read from stdin",
		Long: "Reads one JSON command such as {\"action\":\"flush\",\"group\":\"<name>\"} from stdin and writes\n" +
			"exactly one of success, failed or no pending posts to stdout.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runHandleConn(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OQQWall config file")
	return cmd
}

func runHandleConn(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	a, err := loadApp(configPath)
	if err != nil {
		fmt.Fprint(out, control.ReplyFailed)
		return err
	}
	defer a.Close()

	l := control.NewListener(a.newEngine(a.cfg), a.crash, a.log)
	reply := l.Handle(cmd.Context(), cmd.InOrStdin())
	fmt.Fprint(out, reply)
	if reply == control.ReplyFailed {
		return errors.New("control command failed")
	}
	return nil
}

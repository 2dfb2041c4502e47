package main

import (
	"fmt"

	"github.com/gfhdhytghd/oqqwall/internal/models"
	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var (
		configPath string
		sub        models.Submission
		comment    string
		needPriv   bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record an approved submission for later run-tag",
		Long:  "Inserts an already-classified submission into the submissions table. This is the hook the upstream classifier calls.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("comment") {
				sub.Comment = &comment
			}
			sub.Flags = models.EncodeFlags(needPriv)
			cmd.SilenceUsage = true
			return runSubmit(cmd, configPath, sub)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OQQWall config file")
	cmd.Flags().Int64Var(&sub.Tag, "tag", 0, "submission tag")
	cmd.Flags().StringVar(&sub.SenderID, "sender", "", "sender uin")
	cmd.Flags().StringVar(&sub.ReceiverID, "receiver", "", "receiving account uin")
	cmd.Flags().StringVar(&sub.GroupName, "group", "", "account group")
	cmd.Flags().StringVar(&comment, "comment", "", "operator comment")
	cmd.Flags().BoolVar(&needPriv, "needpriv", false, "sender asked for anonymity")
	cmd.MarkFlagRequired("tag")
	cmd.MarkFlagRequired("sender")
	cmd.MarkFlagRequired("group")
	return cmd
}

func runSubmit(cmd *cobra.Command, configPath string, sub models.Submission) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.cfg.Group(sub.GroupName); !ok {
		return fmt.Errorf("group %q is not configured", sub.GroupName)
	}
	if err := a.store.PutSubmission(cmd.Context(), sub); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded submission %d for %s\n", sub.Tag, sub.GroupName)
	return nil
}

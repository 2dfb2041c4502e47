package main

import (
	"fmt"

	"github.com/gfhdhytghd/oqqwall/internal/db"
	"github.com/gfhdhytghd/oqqwall/internal/models"
	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBProvisionCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the OQQWall database",
		Long:  "Migrates the shared tables and provisions one staging table per configured group.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OQQWall config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	fmt.Fprintf(out, "Loaded config with %d groups from %s\n", len(a.cfg.Groups), configPath)

	if err := db.AutoMigrate(a.db); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	for _, g := range a.cfg.GroupNames() {
		if err := db.ProvisionGroup(a.db, g); err != nil {
			return err
		}
		fmt.Fprintf(out, "Provisioned %s\n", models.StagingTable(g))
	}
	return nil
}

func newDBProvisionCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "provision <group>",
		Short: "Create the staging table for one configured group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBProvision(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OQQWall config file")
	return cmd
}

func runDBProvision(cmd *cobra.Command, configPath, group string) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.cfg.Group(group); !ok {
		return fmt.Errorf("group %q is not configured", group)
	}
	if err := db.ProvisionGroup(a.db, group); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Provisioned %s\n", models.StagingTable(group))
	return nil
}

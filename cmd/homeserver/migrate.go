package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"homeserver/internal/config"
	"homeserver/internal/store"
)

func newMigrateCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var dryRun bool
	var inspect bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run or inspect database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ensureDataDir(cfg); err != nil {
				return err
			}
			st, err := store.OpenNoMigrate(cfg.DBPath())
			if err != nil {
				return err
			}
			defer st.Close()

			if !inspect && !dryRun {
				if err := st.Migrate(); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			plan, err := st.MigrationPlan()
			if err != nil {
				return fmt.Errorf("inspect migrations: %w", err)
			}
			if *jsonOutput {
				return writeJSON(plan)
			}

			if !inspect && !dryRun {
				return writePlain("Migrations applied successfully (version %d).\n", plan.CurrentVersion)
			}

			if err := writePlain("Current version: %d\nAvailable version: %d\n", plan.CurrentVersion, plan.AvailableVersion); err != nil {
				return err
			}
			if len(plan.Pending) == 0 {
				return writePlain("No pending migrations.\n")
			}
			if err := writePlain("Pending migrations: %d\n", len(plan.Pending)); err != nil {
				return err
			}
			for _, m := range plan.Pending {
				if err := writePlain("  %d: %s\n", m.Version, m.Description); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show pending migrations without applying")
	cmd.Flags().BoolVar(&inspect, "inspect", false, "show migration status")

	return cmd
}

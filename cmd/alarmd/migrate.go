package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsgrid/alarmd/internal/config"
	"github.com/opsgrid/alarmd/internal/repository/postgres"
	"github.com/opsgrid/alarmd/migrations"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			db, err := postgres.New(cfg.Database)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer db.Close()

			if err := postgres.RunMigrations(db, migrations.GetFS()); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		},
	}
}

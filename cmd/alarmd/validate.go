package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsgrid/alarmd/internal/config"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
	"github.com/opsgrid/alarmd/internal/repository/postgres"
	"github.com/opsgrid/alarmd/internal/services"
)

func newValidateRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-rules",
		Short: "Check every stored suppression rule and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			log := logger.New(logger.Config{Level: "error", Format: "console"})

			db, err := postgres.New(cfg.Database)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer db.Close()

			repo := postgres.NewSuppressionRepository(db)
			svc := services.NewSuppressionService(repo, nil, log)

			problems := svc.ValidateAll(context.Background())
			if len(problems) == 0 {
				fmt.Println("All suppression rules are valid")
				return nil
			}
			for _, p := range problems {
				fmt.Fprintf(os.Stderr, "invalid rule: %v\n", p)
			}
			return fmt.Errorf("%d invalid suppression rules", len(problems))
		},
	}
}

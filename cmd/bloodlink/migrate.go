// cmd/bloodlink/migrate.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"bloodlink/internal/store/postgres"

	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			zl, log := opts.logger(cfg)
			defer zl.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pg, err := connectPostgres(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer pg.Close()

			if err := postgres.New(pg.DB, log).Migrate(ctx); err != nil {
				return err
			}
			log.Info("schema migrated", nil)
			return nil
		},
	}
}

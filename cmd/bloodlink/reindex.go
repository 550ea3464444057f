// cmd/bloodlink/reindex.go
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"bloodlink/internal/common/config"
	"bloodlink/internal/models"
	"bloodlink/internal/store/postgres"
	"bloodlink/internal/store/search"

	"github.com/spf13/cobra"
)

func newReindexCommand(opts *rootOptions) *cobra.Command {
	var skipRequests bool
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Copy donors and open requests from Postgres into the Elasticsearch indices and drop fulfilled requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			zl, log := opts.logger(cfg)
			defer zl.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			es, err := connectElasticsearch(ctx, cfg, log, 5)
			if err != nil {
				return err
			}
			if es == nil {
				return fmt.Errorf("database.elasticsearch is not configured")
			}
			pg, err := connectPostgres(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer pg.Close()

			store := postgres.New(pg.DB, log)
			idx := search.New(es.Client, searchConfig(cfg), log)
			if err := idx.EnsureIndices(ctx); err != nil {
				return err
			}

			donors := 0
			if err := store.EachDonor(ctx, func(d models.Donor) error {
				donors++
				return idx.IndexDonor(ctx, d)
			}); err != nil {
				return fmt.Errorf("reindex donors: %w", err)
			}

			requests, removed := 0, 0
			if !skipRequests {
				if err := store.EachOpenRequest(ctx, func(r models.BloodRequest) error {
					requests++
					return idx.IndexRequest(ctx, r)
				}); err != nil {
					return fmt.Errorf("reindex requests: %w", err)
				}
				if err := store.EachFulfilledRequest(ctx, func(r models.BloodRequest) error {
					removed++
					return idx.DeleteRequest(ctx, r.ID)
				}); err != nil {
					return fmt.Errorf("remove fulfilled requests: %w", err)
				}
			}

			log.Info("reindex complete", map[string]interface{}{"donors": donors, "requests": requests, "removed": removed})
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipRequests, "donors-only", false, "skip the blood request index")
	return cmd
}

func searchConfig(cfg *config.Config) search.Config {
	es := cfg.Database.Elasticsearch
	return search.Config{
		DonorIndex:   es.DonorIndex,
		RequestIndex: es.RequestIndex,
		Timeout:      config.GetDuration(es.Timeout),
	}
}

// cmd/bloodlink/serve.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bloodlink/internal/api"
	"bloodlink/internal/common/auth"
	"bloodlink/internal/common/camunda"
	"bloodlink/internal/common/config"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/common/observability"
	"bloodlink/internal/compatibility"
	"bloodlink/internal/dispatch"
	"bloodlink/internal/geo"
	"bloodlink/internal/matching"
	"bloodlink/internal/models"
	"bloodlink/internal/offers"
	"bloodlink/internal/routing"
	"bloodlink/internal/store/postgres"
	"bloodlink/internal/store/search"
	notifydonors "bloodlink/internal/workers/matching/notify-donors"
	sendnotification "bloodlink/internal/workers/notification/send-notification"
	"bloodlink/pkg/registry"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	migrate bool
	addr    string
}

func (o *serveOptions) addFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.migrate, "migrate", false, "apply the Postgres schema before serving")
	fs.StringVar(&o.addr, "addr", "", "listen address, overrides http.port")
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	so := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the dispatch pipeline and the workflow workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			zl, log := opts.logger(cfg)
			defer zl.Sync()
			return serve(cfg, log, so)
		},
	}
	so.addFlags(cmd.Flags())
	return cmd
}

func serve(cfg *config.Config, log logger.Logger, so *serveOptions) error {
	log.Info("starting bloodlink", map[string]interface{}{
		"version":     getVersion(),
		"environment": cfg.App.Environment,
	})

	if err := compatibility.ValidateTable(); err != nil {
		return err
	}
	mode, err := geo.ParseMode(cfg.Matching.DefaultMode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := connectPostgres(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pg.Close()

	rdb, err := connectRedis(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	store := postgres.New(pg.DB, log)
	if so.migrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	var (
		donorSource   matching.DonorSource
		requestSource matching.RequestSource
		requestIndex  offers.RequestIndexer
	)
	es, err := connectElasticsearch(ctx, cfg, log, 3)
	if err != nil {
		log.Warn("Elasticsearch unavailable, matching uses the Postgres candidate source", map[string]interface{}{"error": err})
	} else if es != nil {
		idx := search.New(es.Client, searchConfig(cfg), log)
		if err := idx.EnsureIndices(ctx); err != nil {
			log.Warn("failed to ensure search indices", map[string]interface{}{"error": err})
		}
		donorSource, requestSource, requestIndex = idx, idx, idx
	}

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	matchOpts := []matching.Option{matching.WithMetrics(obs)}
	if donorSource != nil {
		matchOpts = append(matchOpts,
			matching.WithDonorSources(donorSource, store),
			matching.WithRequestSources(requestSource, store))
	} else {
		matchOpts = append(matchOpts,
			matching.WithDonorSources(store, nil),
			matching.WithRequestSources(store, nil))
	}
	router := routing.NewClient(routing.LoadConfig(cfg), rdb.Client, log)
	if router.Enabled() {
		matchOpts = append(matchOpts, matching.WithRouter(router))
	} else {
		log.Info("routing service not configured, meeting points use the geographic midpoint", nil)
	}
	orchestrator := matching.NewOrchestrator(matching.LoadConfig(cfg), log, matchOpts...)

	templates := registry.NewStore(cfg.Notifications.TemplateRegistryPath, config.GetDuration(cfg.Notifications.TemplateCacheTTL))
	channel, err := sendnotification.NewHandler(sendnotification.LoadConfig(cfg), pg.DB, rdb.Client, templates, log)
	if err != nil {
		return err
	}
	sink := dispatch.NewRedisSink(rdb.Client, cfg.Dispatch.ExhaustedKey, cfg.Dispatch.ExhaustedMaxLen)
	pipeline, err := dispatch.New(dispatch.LoadConfig(cfg), channel, sink, log)
	if err != nil {
		return err
	}
	pipeline.Start()

	zb, err := connectZeebe(ctx, cfg, log)
	if err != nil {
		log.Warn("Zeebe unavailable, workflow workers disabled", map[string]interface{}{"error": err})
		zb = nil
	}
	var publisher offers.MessagePublisher
	if zb != nil {
		defer zb.Close()
		publisher = zb
	}

	offerService := offers.NewService(store, pipeline, publisher, nil, offers.Config{
		PrivilegedRoles: cfg.Auth.PrivilegedRoles,
		Channel:         models.ChannelEmail,
	}, log)
	if requestIndex != nil {
		offerService.WithRequestIndex(requestIndex)
	}
	notifier := notifydonors.NewHandler(notifydonors.LoadConfig(cfg), store, orchestrator, pipeline, log)

	var workers []*camunda.CamundaWorker
	if zb != nil {
		handlers := map[string]camunda.JobHandler{
			notifydonors.TaskType:     notifier,
			sendnotification.TaskType: channel,
		}
		for taskType, handler := range handlers {
			if !config.IsWorkerEnabled(cfg, taskType) {
				log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
				continue
			}
			w := camunda.NewWorker(zb.GetClient(), taskType, config.GetWorkerConfig(cfg, taskType), handler, log)
			w.Start()
			workers = append(workers, w)
		}
		log.Info("workflow workers started", map[string]interface{}{"count": len(workers)})
	}

	verifier := auth.NewKeycloakClient(auth.KeycloakConfig{
		BaseURL:      cfg.Auth.Keycloak.URL,
		Realm:        cfg.Auth.Keycloak.Realm,
		ClientID:     cfg.Auth.Keycloak.ClientID,
		ClientSecret: cfg.Auth.Keycloak.ClientSecret,
		Timeout:      config.GetDuration(cfg.Auth.Timeout),
		CacheTTL:     config.GetDuration(cfg.Auth.TokenCacheTTL),
	}, rdb.Client, log)

	handler := api.New(api.Deps{
		Verifier:    verifier,
		Matcher:     orchestrator,
		Directory:   store,
		Offers:      offerService,
		Notifier:    notifier,
		Escalator:   pipeline,
		Checks:      readinessChecks(pg.Ping, rdb.Ping, zb),
		DefaultMode: mode,
		Timeout:     config.GetDuration(cfg.HTTP.WriteTimeout),
	}, log)

	addr := cfg.HTTP.Address()
	if so.addr != "" {
		addr = so.addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadTimeout:       config.GetDuration(cfg.HTTP.ReadTimeout),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      config.GetDuration(cfg.HTTP.WriteTimeout),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", nil)

		for _, w := range workers {
			w.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.HTTP.ShutdownTimeout))
		defer cancel()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := pipeline.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown finished with errors", map[string]interface{}{"error": err})
		return err
	}
	log.Info("bloodlink stopped", nil)
	return nil
}

// readinessChecks lists the dependencies /ready reports on. The workflow
// gateway is only checked when serve connected to one.
func readinessChecks(postgres, redis func(context.Context) error, zb *camunda.Client) []api.Check {
	checks := []api.Check{
		{Name: "postgres", Run: postgres},
		{Name: "redis", Run: redis},
	}
	if zb != nil {
		checks = append(checks, api.Check{Name: "zeebe", Run: zb.Ping})
	}
	return checks
}

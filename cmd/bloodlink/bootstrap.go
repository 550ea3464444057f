// cmd/bloodlink/bootstrap.go
package main

import (
	"context"
	"fmt"
	"time"

	"bloodlink/internal/common/camunda"
	"bloodlink/internal/common/config"
	"bloodlink/internal/common/database"
	"bloodlink/internal/common/logger"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err,
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%s aborted: %w", operationName, ctx.Err())
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func connectPostgres(ctx context.Context, cfg *config.Config, log logger.Logger) (*database.PostgresClient, error) {
	var pg *database.PostgresClient
	err := retryWithBackoff(ctx, func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		if err := pg.Ping(ctx); err != nil {
			pg.Close()
			return err
		}
		return nil
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		return nil, err
	}
	log.Info("PostgreSQL connected successfully", nil)
	return pg, nil
}

func connectRedis(ctx context.Context, cfg *config.Config, log logger.Logger) (*database.RedisClient, error) {
	var rdb *database.RedisClient
	err := retryWithBackoff(ctx, func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		if err := rdb.Ping(ctx); err != nil {
			rdb.Close()
			return err
		}
		return nil
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		return nil, err
	}
	log.Info("Redis connected successfully", nil)
	return rdb, nil
}

// connectElasticsearch returns nil without error when no cluster is
// configured.
func connectElasticsearch(ctx context.Context, cfg *config.Config, log logger.Logger, attempts int) (*database.ElasticsearchClient, error) {
	if !cfg.Database.Elasticsearch.Enabled() {
		log.Info("Elasticsearch not configured, matching uses the Postgres candidate source", nil)
		return nil, nil
	}
	var es *database.ElasticsearchClient
	err := retryWithBackoff(ctx, func() error {
		var err error
		es, err = database.NewElasticsearch(cfg.Database.Elasticsearch, nil)
		if err != nil {
			return err
		}
		return es.Ping(ctx)
	}, attempts, 2*time.Second, log, "Elasticsearch connection")
	if err != nil {
		return nil, err
	}
	log.Info("Elasticsearch connected successfully", nil)
	return es, nil
}

// connectZeebe returns nil without error when no broker is configured.
func connectZeebe(ctx context.Context, cfg *config.Config, log logger.Logger) (*camunda.Client, error) {
	if !cfg.Camunda.Enabled() {
		log.Info("Zeebe broker not configured, workflow workers disabled", nil)
		return nil, nil
	}
	var zb *camunda.Client
	err := retryWithBackoff(ctx, func() error {
		var err error
		zb, err = camunda.Connect(ctx, camunda.ClientConfig{
			GatewayAddress: cfg.Camunda.BrokerAddress,
			Plaintext:      true,
			DialTimeout:    10 * time.Second,
			RequestTimeout: config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return err
	}, 10, 2*time.Second, log, "Zeebe client initialization")
	if err != nil {
		return nil, err
	}
	log.Info("Zeebe client connected successfully", nil)
	return zb, nil
}

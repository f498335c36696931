package main

import (
	"context"
	"time"

	"infra-monitor/internal/api"
	"infra-monitor/internal/cache"
	"infra-monitor/internal/monitoring"
	"infra-monitor/internal/worker"
	"infra-monitor/pkg/db"
	"infra-monitor/pkg/events"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/telemetry"

	"github.com/spf13/cobra"
)

const latestMetricsTTL = 10 * time.Minute

func newServeCmd() *cobra.Command {
	var (
		port string
		seed bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Resource API and its maintenance workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(port)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			repo, closeDB, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := repo.Migrate(ctx); err != nil {
				return err
			}
			if seed || cfg.SeedDemoData {
				if seeded, err := repo.SeedDemoData(ctx); err != nil {
					return err
				} else if seeded {
					logger.Info("Demo data seeded")
				}
			}

			metrics := telemetry.New(cfg.ServiceName)
			deps := api.Deps{Repo: repo, Telemetry: metrics}

			if cfg.RedisURL != "" {
				redisClient, err := db.NewRedisConnection(cfg.RedisURL, cfg.ServiceName)
				if err != nil {
					return err
				}
				defer func() {
					if err := redisClient.Close(); err != nil {
						logger.Error("Error closing Redis connection", logger.Err(err))
					}
				}()
				deps.Cache = cache.NewLatestMetrics(redisClient, latestMetricsTTL)
				deps.Redis = redisClient
				logger.Info("Connected to Redis")
			}

			var publisher events.Publisher = events.Nop{}
			if cfg.RabbitMQURL != "" {
				eventClient, err := events.NewClient(cfg.RabbitMQURL)
				if err != nil {
					return err
				}
				defer eventClient.Close()
				publisher = eventClient
				logger.Info("Connected to RabbitMQ")
			}
			deps.Events = publisher

			var archive monitoring.Archiver
			if cfg.MinioEndpoint != "" {
				minioClient, err := db.NewMinioClient(cfg)
				if err != nil {
					return err
				}
				archive = db.NewLogArchive(minioClient)
				deps.Storage = minioClient
				logger.Info("Connected to MinIO", logger.String("bucket", cfg.MinioBucket))
			}

			orchestrator := monitoring.NewOrchestrator(cfg, repo, archive, publisher, metrics)

			workerPool := worker.NewWorkerPool(cfg, orchestrator)
			workerPool.Start()
			defer workerPool.Stop()

			return serveHTTP(ctx, "infra-monitor API", cfg, api.NewServer(cfg, deps).Router())
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	cmd.Flags().BoolVar(&seed, "seed", false, "seed demo data into an empty store")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			repo, closeDB, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := repo.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("Schema is up to date", logger.String("driver", cfg.DBDriver))
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo systems, metrics and logs into an empty store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			repo, closeDB, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := repo.Migrate(ctx); err != nil {
				return err
			}
			seeded, err := repo.SeedDemoData(ctx)
			if err != nil {
				return err
			}
			if !seeded {
				logger.Info("Store already has systems, nothing seeded")
				return nil
			}
			logger.Info("Demo data seeded")
			return nil
		},
	}
}

package main

import (
	"infra-monitor/internal/gateway"
	"infra-monitor/pkg/db"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/telemetry"

	"github.com/spf13/cobra"
)

func newGatewayCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Route /api requests to the resource services with per-client rate limiting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(port)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			var limiter gateway.Limiter
			if cfg.RedisURL != "" {
				redisClient, err := db.NewRedisConnection(cfg.RedisURL, cfg.ServiceName)
				if err != nil {
					return err
				}
				defer redisClient.Close()
				limiter = gateway.NewRedisLimiter(redisClient, cfg.RateLimitWindow, cfg.RateLimitMax)
				logger.Info("Rate limiting through Redis")
			} else {
				limiter = gateway.NewMemoryLimiter(cfg.RateLimitWindow, cfg.RateLimitMax)
			}

			server, err := gateway.NewServer(cfg, limiter, telemetry.New(cfg.ServiceName+"-gateway"))
			if err != nil {
				return err
			}
			return serveHTTP(ctx, "API gateway", cfg, server.Router())
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

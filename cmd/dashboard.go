package main

import (
	"context"
	"sync"

	"infra-monitor/internal/client"
	"infra-monitor/internal/dashboard"
	"infra-monitor/internal/poller"
	"infra-monitor/pkg/events"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/telemetry"

	"github.com/spf13/cobra"
)

func newDashboardCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Poll the Resource API and serve aggregated dashboard state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(port)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			api := client.New(cfg.APIBaseURL, cfg.RequestTimeout)
			logger.Info("Polling resource API", logger.String("base_url", api.BaseURL()))
			metrics := telemetry.New(cfg.ServiceName + "-dashboard")
			p := poller.New(api, poller.Intervals{
				Systems: cfg.SystemsPollInterval,
				Metrics: cfg.MetricsPollInterval,
				Logs:    cfg.LogsPollInterval,
			}, metrics)
			server := dashboard.NewServer(cfg, p, api, metrics)
			defer server.Hub().Close()

			var wg sync.WaitGroup
			pollCtx, cancelPolls := context.WithCancel(ctx)
			defer cancelPolls()

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := p.Run(pollCtx); err != nil {
					logger.Error("Poller stopped with error", logger.Err(err))
				}
			}()

			if cfg.RabbitMQURL != "" {
				eventClient, err := events.NewClient(cfg.RabbitMQURL)
				if err != nil {
					return err
				}
				defer eventClient.Close()

				wg.Add(1)
				go func() {
					defer wg.Done()
					logger.Info("Listening for change events", logger.String("exchange", events.Exchange))
					if err := eventClient.Consume(pollCtx, p.HandleEvent); err != nil {
						logger.Error("Change event consumer stopped", logger.Err(err))
					}
				}()
			}

			err = serveHTTP(ctx, "dashboard", cfg, server.Router())
			cancelPolls()
			wg.Wait()
			return err
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

package main

import (
	"fmt"

	"infra-monitor/internal/agent"
	"infra-monitor/internal/client"
	"infra-monitor/pkg/models"

	"github.com/spf13/cobra"
)

func newAgentCmd() *cobra.Command {
	var diskPath string

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Register this host and report its metrics to the Resource API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("")
			if err != nil {
				return err
			}

			systemType := models.SystemType(cfg.AgentType)
			if systemType != "" && !systemType.Valid() {
				return fmt.Errorf("invalid AGENT_TYPE %q", cfg.AgentType)
			}

			ctx, stop := signalContext()
			defer stop()

			reporter := agent.NewReporter(
				client.New(cfg.APIBaseURL, cfg.RequestTimeout),
				agent.NewCollector(diskPath),
				agent.Options{
					Name:     cfg.AgentName,
					Type:     systemType,
					Version:  cfg.AgentVersion,
					Interval: cfg.AgentInterval,
				},
			)
			return reporter.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&diskPath, "disk", "/", "mount point whose usage is reported")
	return cmd
}

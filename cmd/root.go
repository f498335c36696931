package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "infra-monitor",
		Short: "Infrastructure monitoring backend",
		Long: `infra-monitor stores systems, metrics and logs and serves them to dashboards.

Commands:
  serve      Run the Resource API and its maintenance workers
  gateway    Run the rate-limited API gateway
  dashboard  Poll the API and serve aggregated dashboard state
  agent      Report this host's metrics to the API
  migrate    Create or update the database schema
  seed       Insert the demo systems into an empty store`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newGatewayCmd(),
		newDashboardCmd(),
		newAgentCmd(),
		newMigrateCmd(),
		newSeedCmd(),
	)

	return root
}

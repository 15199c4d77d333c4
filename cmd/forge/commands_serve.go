package main

import (
	"github.com/spf13/cobra"

	"github.com/forgerun/core/internal/profile"
)

// buildServeCmd creates the "serve" command that starts the Engine Facade
// behind its HTTP surface. This is the primary command for running Forge
// in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Forge engine server",
		Long: `Start the Forge engine server.

The server will:
1. Load and validate configuration from the specified file (or forge.yaml)
2. Build the configured LLM provider (direct or failover chain)
3. Register the built-in example workers
4. Start the cron scheduler for any configured plan/webhook jobs
5. Start the HTTP server for session operations, health, and metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  forge serve

  # Start with custom config
  forge serve --config /etc/forge/production.yaml

  # Start with debug logging
  forge serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd, configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(),
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

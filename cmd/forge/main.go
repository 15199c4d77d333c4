// Package main provides the CLI entry point for Forge, the agent
// orchestration core and execution plan engine.
//
// Forge binds LLM providers, the Tool Registry, the Permission Arbiter,
// the Worker Pool, and the Execution Plan Engine behind the Engine
// Facade and exposes it over HTTP.
//
// # Basic Usage
//
// Start the server:
//
//	forge serve --config forge.yaml
//
// Run a single turn against an ad-hoc in-process session:
//
//	forge session run --message "summarize the open PRs"
//
// # Environment Variables
//
//   - FORGE_PROFILE: named profile to load (see "forge profile")
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY: provider credentials
//   - DATABASE_URL, JWT_SECRET: generic overrides honored by internal/config
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgerun/core/internal/profile"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version     = "dev"
	commit      = "none"
	date        = "unknown"
	profileName string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forge",
		Short: "Forge - agent orchestration core and execution plan engine",
		Long: `Forge binds LLM providers, tools, permissions, workers, and execution
plans behind one facade and exposes it over HTTP.

Supported LLM providers: Anthropic, OpenAI, Bedrock, Gemini (direct or
behind a priority-ordered failover chain)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Profile name (uses ~/.forge/profiles/<name>.yaml; or set FORGE_PROFILE)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSessionCmd(),
		buildWorkersCmd(),
		buildConfigCmd(),
		buildProfileCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	activeProfile := strings.TrimSpace(profileName)
	if activeProfile == "" {
		activeProfile = strings.TrimSpace(os.Getenv("FORGE_PROFILE"))
	}
	if activeProfile != "" {
		return profile.ProfileConfigPath(activeProfile)
	}
	if strings.TrimSpace(path) == "" || path == profile.DefaultConfigName {
		return profile.DefaultConfigPath()
	}
	return path
}

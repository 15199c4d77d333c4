package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgerun/core/internal/config"
	"github.com/forgerun/core/internal/convloop"
	"github.com/forgerun/core/internal/core"
	"github.com/forgerun/core/internal/engine"
	"github.com/forgerun/core/internal/observability"
)

// buildSessionCmd creates the "session" command group.
func buildSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run one-off, in-process sessions against a configured provider",
	}
	cmd.AddCommand(buildSessionRunCmd())
	return cmd
}

func buildSessionRunCmd() *cobra.Command {
	var (
		configPath string
		workerID   string
		message    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a session and run one turn against it",
		Example: `  forge session run --message "summarize the open PRs"
  forge session run --worker coder --message "add a Makefile target for lint"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runSessionRun(cmd, configPath, workerID, message)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&workerID, "worker", "generalist", "Worker ID to start the session on")
	cmd.Flags().StringVarP(&message, "message", "m", "", "User message to send")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func runSessionRun(cmd *cobra.Command, configPath, workerID, message string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	sink := observability.NewEventBus(cfg.Observability.Events.QueueCapacity, nil, logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	provider, err := buildConfiguredProvider(ctx, cfg.Providers)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	eng := engine.New(provider, sink, engine.Config{
		LoopOptions: convloop.Options{MaxTurns: cfg.Session.MaxTurns},
		Consent:     denyAllConsent{},
	})
	for _, worker := range builtinWorkers() {
		eng.RegisterWorker(worker)
	}

	sess, err := eng.CreateSession(workerID, nil)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	result, err := eng.Run(ctx, sess.ID, core.Message{
		Role:      core.RoleUser,
		Content:   []core.ContentBlock{{Type: core.ContentText, Text: message}},
		Timestamp: time.Now(),
	}, convloop.Options{})
	if err != nil {
		return fmt.Errorf("run session: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, msg := range result.Appended {
		if msg.Role != core.RoleAssistant {
			continue
		}
		fmt.Fprintln(out, msg.Text())
	}
	eng.Shutdown()
	return nil
}

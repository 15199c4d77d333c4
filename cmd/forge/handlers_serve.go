package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	forgecron "github.com/forgerun/core/internal/cron"

	"github.com/forgerun/core/internal/circuitbreaker"
	"github.com/forgerun/core/internal/config"
	"github.com/forgerun/core/internal/convloop"
	"github.com/forgerun/core/internal/core"
	"github.com/forgerun/core/internal/engine"
	"github.com/forgerun/core/internal/enginesrv"
	"github.com/forgerun/core/internal/observability"
	"github.com/forgerun/core/internal/swarm"
)

// denyAllConsent is the default permission.UserConsent for headless
// operation: a forge serve process has no human attached to a terminal to
// prompt, so every Prompt-tier decision is denied until an operator grants
// it out of band (e.g. by editing the session's plan policy).
type denyAllConsent struct{}

func (denyAllConsent) RequestPermission(toolID string) (granted bool, level core.RiskLevel, persistent bool) {
	return false, core.RiskHigh, false
}

// runServe loads configuration, builds the Engine Facade and its HTTP
// surface, starts the cron scheduler and worker health-probe loop, and
// blocks until SIGINT/SIGTERM triggers a graceful shutdown.
func runServe(cmd *cobra.Command, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := cfg.Logging.Level
	if debug {
		logLevel = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  logLevel,
		Format: cfg.Logging.Format,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	provider, err := buildConfiguredProvider(ctx, cfg.Providers)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	metrics := observability.NewMetrics()
	sink := observability.NewEventBus(cfg.Observability.Events.QueueCapacity, metrics, logger)

	eng := engine.New(provider, sink, engine.Config{
		DispatchStrategy: swarm.Strategy(cfg.Engine.DispatchStrategy),
		SwarmConfig: swarm.Config{
			UnhealthyThreshold:  cfg.Engine.Swarm.UnhealthyThreshold,
			HealthCheckInterval: cfg.Engine.Swarm.HealthCheckInterval,
			StaleAfter:          cfg.Engine.Swarm.StaleAfter,
		},
		BreakerConfig: circuitbreaker.Config{
			FailureThreshold:  cfg.Engine.Breaker.FailureThreshold,
			SuccessThreshold:  cfg.Engine.Breaker.SuccessThreshold,
			OpenTimeout:       cfg.Engine.Breaker.OpenTimeout,
			HalfOpenMaxProbes: cfg.Engine.Breaker.HalfOpenMaxProbes,
		},
		LoopOptions: convloop.Options{
			MaxTurns: cfg.Session.MaxTurns,
		},
		Consent: denyAllConsent{},
	})
	for _, worker := range builtinWorkers() {
		eng.RegisterWorker(worker)
	}

	httpServer, err := enginesrv.New(enginesrv.Config{
		Server:    cfg.Server,
		Metrics:   cfg.Observability.Metrics,
		Engine:    eng,
		Registry:  metrics.Registry(),
		Logger:    logger,
		StartTime: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("build engine server: %w", err)
	}
	if err := httpServer.Start(ctx); err != nil {
		return fmt.Errorf("start engine server: %w", err)
	}

	scheduler, err := forgecron.NewScheduler(cfg.Cron,
		forgecron.WithPlanRunner(forgecron.PlanRunnerFunc(func(ctx context.Context, job *forgecron.Job) error {
			return runCronPlan(ctx, eng, job)
		})),
	)
	if err != nil {
		return fmt.Errorf("build cron scheduler: %w", err)
	}
	if cfg.Cron.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start cron scheduler: %w", err)
		}
	}

	stopHealthProbe := startHealthProbeLoop(ctx, eng, cfg.Engine.Swarm.HealthCheckInterval)

	logger.Info(ctx, "forge serve started", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort))

	<-ctx.Done()
	logger.Info(ctx, "shutting down")

	stopHealthProbe()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := scheduler.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error(shutdownCtx, "cron scheduler stop error", "error", err)
	}
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "engine server stop error", "error", err)
	}
	eng.Shutdown()

	return nil
}

// runCronPlan dispatches a "plan" cron job as a single conversational turn
// against a fresh session on the job's configured worker. CronPlanConfig's
// Mode/Tools fields are accepted for forward compatibility with a future
// Engine.CreatePlan surface but are not yet interpreted: the Engine Facade
// currently exposes only the conversation loop (Run), not direct
// planengine.Engine access.
func runCronPlan(ctx context.Context, eng *engine.Engine, job *forgecron.Job) error {
	if job.Plan == nil {
		return errors.New("cron plan job missing plan config")
	}
	sess, err := eng.CreateSession(job.Plan.WorkerID, job.Plan.Data)
	if err != nil {
		return fmt.Errorf("create session for cron job %s: %w", job.ID, err)
	}
	msg := core.Message{
		Role:      core.RoleUser,
		Content:   []core.ContentBlock{{Type: core.ContentText, Text: job.Plan.Task}},
		Timestamp: time.Now(),
	}
	_, err = eng.Run(ctx, sess.ID, msg, convloop.Options{})
	return err
}

// startHealthProbeLoop ticks swarm.Pool.ProbeStale on interval, grounded
// on internal/gateway/scheduler_manager.go's cron-driven background
// task pattern but implemented as a plain ticker goroutine since the
// probe needs no retry/webhook/execution-history machinery of its own.
func startHealthProbeLoop(ctx context.Context, eng *engine.Engine, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				eng.Workers().ProbeStale(time.Now())
			}
		}
	}()
	return func() { close(done) }
}


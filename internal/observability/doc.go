// Package observability provides monitoring and debugging capabilities for
// the Forge engine through metrics, structured logging, distributed
// tracing, and the engine's event bus.
//
// # Overview
//
// The observability package covers four concerns:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//  4. Events - The bounded, non-blocking event bus behind core.EventSink
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Execution plan starts/completions/duration, by scheduling mode
//   - Per-step duration, outcome, and retry counts, by worker
//   - Worker health/load gauges and dispatch/handoff counters
//   - Circuit breaker state and trip counts, by worker
//   - LLM provider request latency, outcome, token usage, and failovers
//   - Tool execution duration and outcome
//   - Permission arbiter decisions
//   - Event bus queue depth and drop counts
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	metrics.RecordPlanStart("dag")
//	defer metrics.RecordPlanEnd("dag", "completed", time.Since(start), stepCount)
//
//	metrics.RecordProviderRequest("anthropic", "claude-3-opus", "success", time.Since(reqStart))
//	metrics.RecordProviderTokens("anthropic", "claude-3-opus", promptTokens, completionTokens)
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic correlation from context (request, session, plan, step IDs)
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx := observability.AddSessionID(ctx, sessionID)
//	ctx = observability.AddPlanID(ctx, planID)
//
//	logger.Info(ctx, "step dispatched", "worker", workerName, "step_id", stepID)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track turns, plans, and steps
// across components, exported via OTLP when configured:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "forge",
//	    Endpoint:    os.Getenv("OTEL_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceLLMRequest(ctx, "anthropic", "claude-3-opus")
//	defer span.End()
//
// # Events
//
// EventBus implements core.EventSink over a bounded, non-blocking channel:
// Publish never blocks the caller, and events are dropped (and counted)
// rather than stalling a component holding a lock while it publishes.
// Subscribers receive a fan-out copy of the stream; EventLog is an
// optional bounded in-memory subscriber used for replay/debugging by
// CorrelationID.
//
//	bus := observability.NewEventBus(256, metrics, logger)
//	defer bus.Close()
//
//	replay := observability.NewEventLog(10000)
//	ch, unsubscribe := bus.Subscribe(64)
//	defer unsubscribe()
//	go func() {
//	    for e := range ch {
//	        replay.Record(e)
//	    }
//	}()
//
//	bus.Publish(core.Event{Type: core.EventPlanStarted, CorrelationID: planID})
//
// # Context Propagation
//
// All components integrate with Go's context for automatic correlation:
//
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddSessionID(ctx, "sess-456")
//	ctx = observability.AddPlanID(ctx, "plan-789")
//	ctx = observability.AddRunID(ctx, "run-1")
//
//	logger.Info(ctx, "processing") // includes request_id, session_id, plan_id, etc.
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic, provider-specific)
//   - Passwords and secrets
//   - JWT and bearer tokens
//   - Custom patterns via configuration
//
// # Testing
//
//   - Metrics can be verified using prometheus/testutil against a fresh
//     registry returned by NewMetrics's isolated *prometheus.Registry
//   - Logging can write to bytes.Buffer for assertions
//   - Tracing works with no-op exporters in tests (empty Endpoint)
//   - EventBus/EventLog are driven directly in tests with core.Event values
package observability

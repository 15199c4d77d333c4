package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine registers. It is
// constructed once per process and threaded through the components that
// need it via constructor injection, mirroring the teacher's single
// Metrics struct in internal/observability/metrics.go.
type Metrics struct {
	registry *prometheus.Registry

	PlanStarted   *prometheus.CounterVec
	PlanCompleted *prometheus.CounterVec
	PlanDuration  *prometheus.HistogramVec
	PlanStepCount *prometheus.HistogramVec

	StepDuration *prometheus.HistogramVec
	StepCounter  *prometheus.CounterVec
	StepRetries  *prometheus.CounterVec

	WorkerHealth     *prometheus.GaugeVec
	WorkerLoad       *prometheus.GaugeVec
	WorkerDispatched *prometheus.CounterVec
	WorkerHandoffs   *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	ProviderRequestDuration *prometheus.HistogramVec
	ProviderRequestCounter  *prometheus.CounterVec
	ProviderTokensUsed      *prometheus.CounterVec
	ProviderFailovers       prometheus.Counter

	ToolExecutionDuration *prometheus.HistogramVec
	ToolExecutionCounter  *prometheus.CounterVec

	PermissionDecisions *prometheus.CounterVec

	EventQueueDepth   prometheus.Gauge
	EventsDropped     prometheus.Counter
	EventsPublished   *prometheus.CounterVec
	SessionsActive    prometheus.Gauge
	SessionDuration   prometheus.Histogram
	RollbacksExecuted *prometheus.CounterVec
}

// NewMetrics builds and registers every collector against a fresh
// registry, mirroring the teacher's promauto-based NewMetrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		PlanStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_plan_started_total",
			Help: "Total number of execution plans started, labeled by scheduling mode.",
		}, []string{"mode"}),
		PlanCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_plan_completed_total",
			Help: "Total number of execution plans finished, labeled by mode and outcome.",
		}, []string{"mode", "outcome"}),
		PlanDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_plan_duration_seconds",
			Help:    "End-to-end execution plan duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		PlanStepCount: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_plan_step_count",
			Help:    "Number of steps in an executed plan.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}, []string{"mode"}),

		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_step_duration_seconds",
			Help:    "Execution step duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker", "outcome"}),
		StepCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_step_total",
			Help: "Total number of executed steps, labeled by worker and outcome.",
		}, []string{"worker", "outcome"}),
		StepRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_step_retries_total",
			Help: "Total number of step retries, labeled by worker.",
		}, []string{"worker"}),

		WorkerHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forge_worker_health",
			Help: "Exponentially-weighted health score per worker, in [0,1].",
		}, []string{"worker"}),
		WorkerLoad: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forge_worker_load",
			Help: "Current in-flight step count per worker.",
		}, []string{"worker"}),
		WorkerDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_worker_dispatched_total",
			Help: "Total number of steps dispatched to a worker, labeled by strategy.",
		}, []string{"worker", "strategy"}),
		WorkerHandoffs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_worker_handoffs_total",
			Help: "Total number of conversation handoffs between workers.",
		}, []string{"from", "to"}),

		CircuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forge_circuit_breaker_state",
			Help: "Circuit breaker state per worker: 0=closed, 1=half_open, 2=open.",
		}, []string{"worker"}),
		CircuitBreakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_circuit_breaker_trips_total",
			Help: "Total number of times a worker's circuit breaker opened.",
		}, []string{"worker"}),

		ProviderRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_provider_request_duration_seconds",
			Help:    "LLM provider completion request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "model"}),
		ProviderRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_provider_requests_total",
			Help: "Total LLM provider completion requests, labeled by outcome.",
		}, []string{"provider", "model", "outcome"}),
		ProviderTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_provider_tokens_total",
			Help: "Total tokens consumed, labeled by provider and token kind (input/output).",
		}, []string{"provider", "model", "kind"}),
		ProviderFailovers: factory.NewCounter(prometheus.CounterOpts{
			Name: "forge_provider_failovers_total",
			Help: "Total number of provider failover events.",
		}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forge_tool_execution_duration_seconds",
			Help:    "Tool handler execution duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool", "outcome"}),
		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_tool_executions_total",
			Help: "Total tool executions, labeled by tool and outcome.",
		}, []string{"tool", "outcome"}),

		PermissionDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_permission_decisions_total",
			Help: "Total permission arbiter decisions, labeled by decision kind.",
		}, []string{"decision"}),

		EventQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forge_event_queue_depth",
			Help: "Current depth of the bounded event bus queue.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "forge_events_dropped_total",
			Help: "Total events dropped because the event bus queue was full.",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_events_published_total",
			Help: "Total events published, labeled by event type.",
		}, []string{"type"}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forge_sessions_active",
			Help: "Current number of active sessions.",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forge_session_duration_seconds",
			Help:    "Session lifetime from creation to shutdown, in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		}),
		RollbacksExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forge_rollbacks_total",
			Help: "Total rollback executions, labeled by outcome.",
		}, []string{"outcome"}),
	}
}

// Registry exposes the underlying Prometheus registry, e.g. for wiring
// into an HTTP /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordPlanStart records that a plan began executing under the given
// scheduling mode.
func (m *Metrics) RecordPlanStart(mode string) {
	m.PlanStarted.WithLabelValues(mode).Inc()
}

// RecordPlanEnd records a plan's terminal outcome and duration.
func (m *Metrics) RecordPlanEnd(mode, outcome string, duration time.Duration, stepCount int) {
	m.PlanCompleted.WithLabelValues(mode, outcome).Inc()
	m.PlanDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.PlanStepCount.WithLabelValues(mode).Observe(float64(stepCount))
}

// RecordStep records a single executed step.
func (m *Metrics) RecordStep(worker, outcome string, duration time.Duration) {
	m.StepDuration.WithLabelValues(worker, outcome).Observe(duration.Seconds())
	m.StepCounter.WithLabelValues(worker, outcome).Inc()
}

// RecordStepRetry records a step retry attempt.
func (m *Metrics) RecordStepRetry(worker string) {
	m.StepRetries.WithLabelValues(worker).Inc()
}

// SetWorkerHealth sets a worker's current EMA health score.
func (m *Metrics) SetWorkerHealth(worker string, score float64) {
	m.WorkerHealth.WithLabelValues(worker).Set(score)
}

// SetWorkerLoad sets a worker's current in-flight step count.
func (m *Metrics) SetWorkerLoad(worker string, load int) {
	m.WorkerLoad.WithLabelValues(worker).Set(float64(load))
}

// RecordDispatch records a step dispatched to a worker under a
// scheduling strategy.
func (m *Metrics) RecordDispatch(worker, strategy string) {
	m.WorkerDispatched.WithLabelValues(worker, strategy).Inc()
}

// RecordHandoff records a conversation handoff between two workers.
func (m *Metrics) RecordHandoff(from, to string) {
	m.WorkerHandoffs.WithLabelValues(from, to).Inc()
}

// CircuitState enumerates the gauge values for CircuitBreakerState.
type CircuitState float64

const (
	CircuitClosed   CircuitState = 0
	CircuitHalfOpen CircuitState = 1
	CircuitOpen     CircuitState = 2
)

// SetCircuitBreakerState sets a worker's circuit breaker gauge.
func (m *Metrics) SetCircuitBreakerState(worker string, state CircuitState) {
	m.CircuitBreakerState.WithLabelValues(worker).Set(float64(state))
}

// RecordCircuitTrip records a worker's circuit breaker opening.
func (m *Metrics) RecordCircuitTrip(worker string) {
	m.CircuitBreakerTrips.WithLabelValues(worker).Inc()
}

// RecordProviderRequest records an LLM provider completion request.
func (m *Metrics) RecordProviderRequest(provider, model, outcome string, duration time.Duration) {
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	m.ProviderRequestCounter.WithLabelValues(provider, model, outcome).Inc()
}

// RecordProviderTokens records token usage for a completion.
func (m *Metrics) RecordProviderTokens(provider, model string, input, output int) {
	m.ProviderTokensUsed.WithLabelValues(provider, model, "input").Add(float64(input))
	m.ProviderTokensUsed.WithLabelValues(provider, model, "output").Add(float64(output))
}

// RecordProviderFailover records a provider failover event.
func (m *Metrics) RecordProviderFailover() {
	m.ProviderFailovers.Inc()
}

// RecordToolExecution records a tool handler invocation.
func (m *Metrics) RecordToolExecution(tool, outcome string, duration time.Duration) {
	m.ToolExecutionDuration.WithLabelValues(tool, outcome).Observe(duration.Seconds())
	m.ToolExecutionCounter.WithLabelValues(tool, outcome).Inc()
}

// RecordPermissionDecision records a permission arbiter decision.
func (m *Metrics) RecordPermissionDecision(decision string) {
	m.PermissionDecisions.WithLabelValues(decision).Inc()
}

// SetEventQueueDepth sets the current event bus queue depth gauge.
func (m *Metrics) SetEventQueueDepth(depth int) {
	m.EventQueueDepth.Set(float64(depth))
}

// RecordEventDropped increments the dropped-event counter.
func (m *Metrics) RecordEventDropped() {
	m.EventsDropped.Inc()
}

// RecordEventPublished records a successfully enqueued event.
func (m *Metrics) RecordEventPublished(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// SessionStarted increments the active-session gauge.
func (m *Metrics) SessionStarted() {
	m.SessionsActive.Inc()
}

// SessionEnded decrements the active-session gauge and records the
// session's total lifetime.
func (m *Metrics) SessionEnded(duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordRollback records a rollback execution outcome.
func (m *Metrics) RecordRollback(outcome string) {
	m.RollbacksExecuted.WithLabelValues(outcome).Inc()
}

package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPlanStartAndEnd(t *testing.T) {
	m := NewMetrics()

	m.RecordPlanStart("dag")
	m.RecordPlanEnd("dag", "completed", 2*time.Second, 5)

	if got := testutil.ToFloat64(m.PlanStarted.WithLabelValues("dag")); got != 1 {
		t.Fatalf("PlanStarted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PlanCompleted.WithLabelValues("dag", "completed")); got != 1 {
		t.Fatalf("PlanCompleted = %v, want 1", got)
	}
}

func TestRecordStepAndRetry(t *testing.T) {
	m := NewMetrics()

	m.RecordStep("coder", "success", 100*time.Millisecond)
	m.RecordStep("coder", "success", 150*time.Millisecond)
	m.RecordStepRetry("coder")

	if got := testutil.ToFloat64(m.StepCounter.WithLabelValues("coder", "success")); got != 2 {
		t.Fatalf("StepCounter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StepRetries.WithLabelValues("coder")); got != 1 {
		t.Fatalf("StepRetries = %v, want 1", got)
	}
}

func TestWorkerHealthAndLoadGauges(t *testing.T) {
	m := NewMetrics()

	m.SetWorkerHealth("reviewer", 0.85)
	m.SetWorkerLoad("reviewer", 3)
	m.RecordDispatch("reviewer", "adaptive")
	m.RecordHandoff("coder", "reviewer")

	if got := testutil.ToFloat64(m.WorkerHealth.WithLabelValues("reviewer")); got != 0.85 {
		t.Fatalf("WorkerHealth = %v, want 0.85", got)
	}
	if got := testutil.ToFloat64(m.WorkerLoad.WithLabelValues("reviewer")); got != 3 {
		t.Fatalf("WorkerLoad = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.WorkerHandoffs.WithLabelValues("coder", "reviewer")); got != 1 {
		t.Fatalf("WorkerHandoffs = %v, want 1", got)
	}
}

func TestCircuitBreakerGauges(t *testing.T) {
	m := NewMetrics()

	m.SetCircuitBreakerState("coder", CircuitOpen)
	m.RecordCircuitTrip("coder")

	expected := `
		# HELP forge_circuit_breaker_state Circuit breaker state per worker: 0=closed, 1=half_open, 2=open.
		# TYPE forge_circuit_breaker_state gauge
		forge_circuit_breaker_state{worker="coder"} 2
	`
	if err := testutil.CollectAndCompare(m.CircuitBreakerState, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected CircuitBreakerState value: %v", err)
	}
	if got := testutil.ToFloat64(m.CircuitBreakerTrips.WithLabelValues("coder")); got != 1 {
		t.Fatalf("CircuitBreakerTrips = %v, want 1", got)
	}
}

func TestProviderMetrics(t *testing.T) {
	m := NewMetrics()

	m.RecordProviderRequest("anthropic", "claude-3-opus", "success", 500*time.Millisecond)
	m.RecordProviderTokens("anthropic", "claude-3-opus", 120, 40)
	m.RecordProviderFailover()

	if got := testutil.ToFloat64(m.ProviderRequestCounter.WithLabelValues("anthropic", "claude-3-opus", "success")); got != 1 {
		t.Fatalf("ProviderRequestCounter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ProviderTokensUsed.WithLabelValues("anthropic", "claude-3-opus", "input")); got != 120 {
		t.Fatalf("ProviderTokensUsed input = %v, want 120", got)
	}
	if got := testutil.ToFloat64(m.ProviderFailovers); got != 1 {
		t.Fatalf("ProviderFailovers = %v, want 1", got)
	}
}

func TestEventQueueMetrics(t *testing.T) {
	m := NewMetrics()

	m.SetEventQueueDepth(7)
	m.RecordEventDropped()
	m.RecordEventDropped()
	m.RecordEventPublished("StepCompleted")

	if got := testutil.ToFloat64(m.EventQueueDepth); got != 7 {
		t.Fatalf("EventQueueDepth = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.EventsDropped); got != 2 {
		t.Fatalf("EventsDropped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EventsPublished.WithLabelValues("StepCompleted")); got != 1 {
		t.Fatalf("EventsPublished = %v, want 1", got)
	}
}

func TestSessionLifecycleMetrics(t *testing.T) {
	m := NewMetrics()

	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded(90 * time.Second)

	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Fatalf("SessionsActive = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.SessionDuration); got != 1 {
		t.Fatalf("SessionDuration observation count = %d, want 1", got)
	}
}

func TestRollbackAndPermissionMetrics(t *testing.T) {
	m := NewMetrics()

	m.RecordRollback("completed")
	m.RecordPermissionDecision("granted")
	m.RecordToolExecution("fs.write", "success", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.RollbacksExecuted.WithLabelValues("completed")); got != 1 {
		t.Fatalf("RollbacksExecuted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PermissionDecisions.WithLabelValues("granted")); got != 1 {
		t.Fatalf("PermissionDecisions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("fs.write", "success")); got != 1 {
		t.Fatalf("ToolExecutionCounter = %v, want 1", got)
	}
}

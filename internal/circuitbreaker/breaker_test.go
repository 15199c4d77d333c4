package circuitbreaker

import (
	"testing"
	"time"

	"github.com/forgerun/core/internal/core"
)

// TestCircuitOpensAndRecovers is scenario S7 from spec §8: five
// consecutive failures open the breaker, a sixth dispatch is refused
// without invoking the handler, and after openTimeout two successful
// probes close it again.
func TestCircuitOpensAndRecovers(t *testing.T) {
	cfg := Config{
		FailureThreshold:  5,
		SuccessThreshold:  2,
		OpenTimeout:       20 * time.Millisecond,
		HalfOpenMaxProbes: 2,
	}
	b := New(cfg)

	for i := 0; i < 5; i++ {
		if !b.Allow() {
			t.Fatalf("attempt %d: expected Allow while Closed", i)
		}
		b.RecordFailure()
	}
	if b.State().State != core.CircuitOpen {
		t.Fatalf("expected Open after %d failures, got %v", cfg.FailureThreshold, b.State().State)
	}

	if b.Allow() {
		t.Fatalf("sixth dispatch should be refused while Open and before openTimeout")
	}

	time.Sleep(cfg.OpenTimeout + 5*time.Millisecond)

	if !b.Allow() {
		t.Fatalf("expected Allow after openTimeout elapsed (HalfOpen probe)")
	}
	b.RecordSuccess()
	if st := b.State().State; st != core.CircuitHalfOpen {
		t.Fatalf("expected still HalfOpen after 1/%d successes, got %v", cfg.SuccessThreshold, st)
	}

	if !b.Allow() {
		t.Fatalf("expected second HalfOpen probe to be admitted")
	}
	b.RecordSuccess()
	if st := b.State().State; st != core.CircuitClosed {
		t.Fatalf("expected Closed after %d consecutive probe successes, got %v", cfg.SuccessThreshold, st)
	}

	if !b.Allow() {
		t.Fatalf("expected handler to be invoked again once Closed")
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: 10 * time.Millisecond, HalfOpenMaxProbes: 1}
	b := New(cfg)

	b.Allow()
	b.RecordFailure()
	if b.State().State != core.CircuitOpen {
		t.Fatalf("expected Open")
	}

	time.Sleep(15 * time.Millisecond)
	if !b.Allow() {
		t.Fatalf("expected HalfOpen probe to be admitted")
	}
	b.RecordFailure()
	if b.State().State != core.CircuitOpen {
		t.Fatalf("a HalfOpen failure must reopen the circuit")
	}
}

func TestHalfOpenProbeBudget(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 5, OpenTimeout: 10 * time.Millisecond, HalfOpenMaxProbes: 1}
	b := New(cfg)
	b.Allow()
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	if !b.Allow() {
		t.Fatalf("first probe should be admitted")
	}
	if b.Allow() {
		t.Fatalf("second concurrent probe should be refused: budget is %d", cfg.HalfOpenMaxProbes)
	}
}

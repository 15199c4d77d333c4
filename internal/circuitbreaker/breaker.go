// Package circuitbreaker implements the per-worker three-state breaker
// from spec §4.5: Closed, Open, HalfOpen, with failure/success thresholds
// and a half-open probe budget.
//
// Grounded on internal/agent/failover.go's ProviderState (a two-state
// Closed/Open breaker keyed by LLM provider name), generalized here to a
// three-state machine keyed per worker, with an added HalfOpen probe-budget
// stage the teacher's version lacks.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/forgerun/core/internal/core"
)

// Config parameterizes one breaker.
type Config struct {
	FailureThreshold  int
	SuccessThreshold  int
	OpenTimeout       time.Duration
	HalfOpenMaxProbes int
}

// DefaultConfig mirrors the teacher's FailoverConfig defaults
// (threshold 3, timeout 30s), adjusted with a 2-probe half-open budget.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		SuccessThreshold:  2,
		OpenTimeout:       30 * time.Second,
		HalfOpenMaxProbes: 2,
	}
}

// Breaker is one worker's circuit breaker. All transitions are atomic
// under concurrent execution via a single mutex; counters reset on every
// state change per spec §4.5.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	state  core.CircuitState
	fails  int
	succ   int
	lastFailure time.Time
	probesInFlight int
}

// New creates a Breaker starting Closed.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Breaker{cfg: cfg, state: core.CircuitClosed}
}

// Allow reports whether a new execution may proceed, transitioning
// Open->HalfOpen when openTimeout has elapsed (spec invariant 5), and
// admits at most HalfOpenMaxProbes concurrent probes while HalfOpen.
// Every Allow()==true call must be paired with exactly one of
// RecordSuccess/RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case core.CircuitClosed:
		return true
	case core.CircuitOpen:
		if time.Since(b.lastFailure) >= b.cfg.OpenTimeout {
			b.transitionLocked(core.CircuitHalfOpen)
			b.probesInFlight++
			return true
		}
		return false
	case core.CircuitHalfOpen:
		if b.probesInFlight >= b.cfg.HalfOpenMaxProbes {
			return false
		}
		b.probesInFlight++
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful execution admitted by Allow.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case core.CircuitHalfOpen:
		b.probesInFlight--
		b.succ++
		if b.succ >= b.cfg.SuccessThreshold {
			b.transitionLocked(core.CircuitClosed)
		}
	case core.CircuitClosed:
		b.fails = 0
	}
}

// RecordFailure reports a failed execution admitted by Allow.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	switch b.state {
	case core.CircuitClosed:
		b.fails++
		if b.fails >= b.cfg.FailureThreshold {
			b.transitionLocked(core.CircuitOpen)
		}
	case core.CircuitHalfOpen:
		b.probesInFlight--
		b.transitionLocked(core.CircuitOpen)
	}
}

// transitionLocked moves to state and resets counters, per spec §4.5
// ("counters reset on state change"). Caller must hold b.mu.
func (b *Breaker) transitionLocked(state core.CircuitState) {
	b.state = state
	b.fails = 0
	b.succ = 0
	if state != core.CircuitHalfOpen {
		b.probesInFlight = 0
	}
}

// State returns a snapshot of the breaker.
func (b *Breaker) State() core.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return core.CircuitBreakerState{
		State:               b.state,
		ConsecutiveFailures: b.fails,
		ConsecutiveSuccess:  b.succ,
		LastFailureAt:       b.lastFailure,
		ProbesInHalfOpen:    b.probesInFlight,
	}
}

// Registry is a keyed set of per-worker breakers (one lock per breaker,
// per spec §5).
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewRegistry creates a Registry using cfg for every worker it creates
// lazily.
func NewRegistry(cfg Config) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), cfg: cfg}
}

// For returns (creating if absent) the breaker for workerID.
func (r *Registry) For(workerID string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[workerID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[workerID]; ok {
		return b
	}
	b = New(r.cfg)
	r.breakers[workerID] = b
	return b
}

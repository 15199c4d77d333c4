// Package swarm implements the Worker Pool (spec §4.5): a registry of
// WorkerConfigs with health tracking, four dispatch strategies, and handoff
// bookkeeping, backed by one circuitbreaker.Breaker per worker.
//
// Grounded on internal/multiagent/capability_router.go's CapabilityRouter
// (capability index, health tracking, load counters, LoadBalanceStrategy
// enum, scoreAgents) and orchestrator.go's handleHandoff (handoff-depth and
// target-validity checks), generalized onto spec §4.5's exact RoundRobin/
// LeastLoaded/CapabilityMatch/Adaptive formulas.
package swarm

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/forgerun/core/internal/circuitbreaker"
	"github.com/forgerun/core/internal/core"
)

// Strategy selects a dispatch algorithm.
type Strategy string

const (
	RoundRobin     Strategy = "round_robin"
	LeastLoaded    Strategy = "least_loaded"
	CapabilityMatch Strategy = "capability_match"
	Adaptive       Strategy = "adaptive"
)

// Health is one worker's health tracker (spec §4.5).
type Health struct {
	Healthy             bool
	LastCheck           time.Time
	ConsecutiveFailures int
	LastResponseMs      int64
}

// workerEntry bundles a registered worker with its bookkeeping.
type workerEntry struct {
	cfg              core.WorkerConfig
	registeredAt     int64 // monotonic registration counter, for tie-breaking
	health           Health
	load             int32
	handoffsSent     int
	handoffsReceived int
}

// Config configures the Pool's health-tracking policy.
type Config struct {
	UnhealthyThreshold  int
	HealthCheckInterval time.Duration
	StaleAfter          time.Duration
}

// DefaultConfig returns spec-reasonable defaults.
func DefaultConfig() Config {
	return Config{
		UnhealthyThreshold:  3,
		HealthCheckInterval: 30 * time.Second,
		StaleAfter:          2 * time.Minute,
	}
}

// Pool is the Worker Pool / Swarm of spec §4.5.
type Pool struct {
	cfg      Config
	breakers *circuitbreaker.Registry
	sink     core.EventSink

	mu       sync.RWMutex
	workers  map[string]*workerEntry
	order    []string // registration order
	counter  int64
}

// New creates an empty Pool.
func New(cfg Config, breakers *circuitbreaker.Registry, sink core.EventSink) *Pool {
	if sink == nil {
		sink = core.NoopEventSink
	}
	return &Pool{
		cfg:      cfg,
		breakers: breakers,
		sink:     sink,
		workers:  make(map[string]*workerEntry),
	}
}

func (p *Pool) emit(t core.EventType, payload any) {
	p.sink.Publish(core.Event{Type: t, Timestamp: time.Now(), Payload: payload})
}

// Register adds a worker to the pool, healthy by default.
func (p *Pool) Register(cfg core.WorkerConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counter++
	p.workers[cfg.ID] = &workerEntry{
		cfg:          cfg,
		registeredAt: p.counter,
		health:       Health{Healthy: true, LastCheck: time.Now()},
	}
	p.order = append(p.order, cfg.ID)
	p.emit(core.EventWorkerRegistered, cfg.ID)
}

// Unregister removes a worker.
func (p *Pool) Unregister(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.workers[id]; !ok {
		return
	}
	delete(p.workers, id)
	for i, wid := range p.order {
		if wid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.emit(core.EventWorkerUnregistered, id)
}

// Get returns the config for a registered worker.
func (p *Pool) Get(id string) (core.WorkerConfig, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.workers[id]
	if !ok {
		return core.WorkerConfig{}, false
	}
	return w.cfg, true
}

// Healthy returns the IDs of every healthy worker, in registration order.
func (p *Pool) Healthy() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for _, id := range p.order {
		if p.workers[id].health.Healthy {
			out = append(out, id)
		}
	}
	return out
}

// HealthOf returns a snapshot of one worker's health.
func (p *Pool) HealthOf(id string) (Health, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.workers[id]
	if !ok {
		return Health{}, false
	}
	return w.health, true
}

// Dispatch selects a worker for message under strategy, among the required
// capabilities (used only by CapabilityMatch/Adaptive), and increments its
// load. Fails with TagNoHealthyWorker if no worker is eligible.
func (p *Pool) Dispatch(messageID string, strategy Strategy, requiredCapabilities []core.Capability) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var chosen string
	var err error
	switch strategy {
	case RoundRobin:
		chosen, err = p.dispatchRoundRobin(messageID)
	case LeastLoaded:
		chosen, err = p.dispatchLeastLoaded(p.healthyIDsLocked())
	case CapabilityMatch:
		chosen, err = p.dispatchCapabilityMatch(requiredCapabilities)
	case Adaptive:
		chosen, err = p.dispatchAdaptive(requiredCapabilities)
	default:
		chosen, err = p.dispatchRoundRobin(messageID)
	}
	if err != nil {
		return "", err
	}

	p.workers[chosen].load++
	return chosen, nil
}

// Release decrements a worker's in-flight load after a dispatch completes.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[id]; ok && w.load > 0 {
		w.load--
	}
}

func (p *Pool) healthyIDsLocked() []string {
	var out []string
	for _, id := range p.order {
		if p.workers[id].health.Healthy {
			out = append(out, id)
		}
	}
	return out
}

// dispatchRoundRobin implements spec §4.5: hash(message.id) mod |healthy|.
func (p *Pool) dispatchRoundRobin(messageID string) (string, error) {
	healthy := p.healthyIDsLocked()
	if len(healthy) == 0 {
		return "", noHealthyWorkerErr()
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(messageID))
	idx := int(h.Sum32()) % len(healthy)
	if idx < 0 {
		idx += len(healthy)
	}
	return healthy[idx], nil
}

// dispatchLeastLoaded implements spec §4.5: fewest in-flight, ties by
// registration order. candidates must already be sorted in registration
// order (p.order is).
func (p *Pool) dispatchLeastLoaded(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", noHealthyWorkerErr()
	}
	best := candidates[0]
	bestLoad := p.workers[best].load
	for _, id := range candidates[1:] {
		if p.workers[id].load < bestLoad {
			best, bestLoad = id, p.workers[id].load
		}
	}
	return best, nil
}

// dispatchCapabilityMatch implements spec §4.5: filter healthy workers
// whose capability set contains at least one required capability; among
// survivors, LeastLoaded; falls back to plain LeastLoaded on an empty
// survivor set.
func (p *Pool) dispatchCapabilityMatch(required []core.Capability) (string, error) {
	healthy := p.healthyIDsLocked()
	if len(required) == 0 {
		return p.dispatchLeastLoaded(healthy)
	}
	var survivors []string
	for _, id := range healthy {
		if p.hasAnyCapabilityLocked(id, required) {
			survivors = append(survivors, id)
		}
	}
	if len(survivors) == 0 {
		return p.dispatchLeastLoaded(healthy)
	}
	return p.dispatchLeastLoaded(survivors)
}

func (p *Pool) hasAnyCapabilityLocked(id string, required []core.Capability) bool {
	w := p.workers[id]
	for _, c := range required {
		if w.cfg.HasCapability(c) {
			return true
		}
	}
	return false
}

// dispatchAdaptive implements spec §4.5's scoring formula:
//
//	Score = 100 − 10·load − 50·failureRate + 15·matchingCapabilities + (10 if breaker closed else 0)
//
// picking the maximum, ties broken by registration order.
func (p *Pool) dispatchAdaptive(required []core.Capability) (string, error) {
	healthy := p.healthyIDsLocked()
	if len(healthy) == 0 {
		return "", noHealthyWorkerErr()
	}

	bestID := ""
	bestScore := -1e18
	for _, id := range healthy {
		w := p.workers[id]
		score := p.scoreLocked(w, required)
		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}
	if bestID == "" {
		return "", noHealthyWorkerErr()
	}
	return bestID, nil
}

func (p *Pool) scoreLocked(w *workerEntry, required []core.Capability) float64 {
	failureRate := p.failureRateLocked(w)
	matching := 0
	for _, c := range required {
		if w.cfg.HasCapability(c) {
			matching++
		}
	}
	breakerClosed := 1.0
	if p.breakers != nil {
		if p.breakers.For(w.cfg.ID).State().State != core.CircuitClosed {
			breakerClosed = 0
		}
	}
	return 100 - 10*float64(w.load) - 50*failureRate + 15*float64(matching) + 10*breakerClosed
}

// failureRateLocked approximates a worker's failure rate as consecutive
// failures over the unhealthy threshold, clamped to [0,1].
func (p *Pool) failureRateLocked(w *workerEntry) float64 {
	if p.cfg.UnhealthyThreshold <= 0 {
		return 0
	}
	rate := float64(w.health.ConsecutiveFailures) / float64(p.cfg.UnhealthyThreshold)
	if rate > 1 {
		rate = 1
	}
	return rate
}

// RecordOutcome updates a worker's health tracker after a dispatch
// completes (spec §4.5): success resets consecutiveFailures and marks
// healthy; failure increments the counter and demotes the worker once it
// reaches UnhealthyThreshold.
func (p *Pool) RecordOutcome(id string, success bool, responseTime time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[id]
	if !ok {
		return
	}
	w.health.LastCheck = time.Now()
	w.health.LastResponseMs = responseTime.Milliseconds()
	if success {
		w.health.ConsecutiveFailures = 0
		w.health.Healthy = true
		return
	}
	w.health.ConsecutiveFailures++
	if p.cfg.UnhealthyThreshold > 0 && w.health.ConsecutiveFailures >= p.cfg.UnhealthyThreshold {
		w.health.Healthy = false
	}
}

// ProbeStale demotes workers whose LastCheck predates StaleAfter, emulating
// the background health-check probe from spec §4.5.
func (p *Pool) ProbeStale(now time.Time) {
	if p.cfg.StaleAfter <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.health.Healthy && now.Sub(w.health.LastCheck) > p.cfg.StaleAfter {
			w.health.Healthy = false
		}
	}
}

// Handoff verifies the target worker is registered and healthy, updates
// handoffsSent/handoffsReceived bookkeeping, and emits a Handoff event
// (spec §4.5). The caller (Conversation Loop) is responsible for actually
// switching the active worker.
func (p *Pool) Handoff(fromID, toID string) error {
	p.mu.Lock()
	target, ok := p.workers[toID]
	if !ok || !target.health.Healthy {
		p.mu.Unlock()
		return core.New(core.CategoryOrchestration, core.TagHandoffTargetMissing,
			fmt.Sprintf("handoff target %q is not registered and healthy", toID))
	}
	target.handoffsReceived++
	if source, ok := p.workers[fromID]; ok {
		source.handoffsSent++
	}
	p.mu.Unlock()

	p.emit(core.EventHandoff, map[string]string{"from": fromID, "to": toID})
	return nil
}

// HandoffCounts returns the sent/received counters for id.
func (p *Pool) HandoffCounts(id string) (sent, received int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.workers[id]
	if !ok {
		return 0, 0
	}
	return w.handoffsSent, w.handoffsReceived
}

// Snapshot returns every worker ID in registration order, for diagnostics.
func (p *Pool) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := append([]string(nil), p.order...)
	sort.Strings(out) // diagnostic ordering only; dispatch uses p.order directly
	return out
}

func noHealthyWorkerErr() error {
	return core.New(core.CategoryOrchestration, core.TagNoHealthyWorker, "no healthy worker available for dispatch")
}

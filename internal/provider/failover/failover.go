// Package failover implements a multi-provider core.Provider wrapper that
// tries a priority-ordered list of providers, failing over between them
// on transient or provider-unavailable errors. This is provider-layer
// circuit-breaking, distinct from internal/circuitbreaker's per-worker
// breaker used by the Worker Pool.
//
// Grounded on internal/agent/failover.go's FailoverOrchestrator: its
// per-provider failure-count circuit breaker (open after N consecutive
// failures, half-open after a timeout), its classifyProviderError
// taxonomy (timeout/rate_limit/auth/billing/model_unavailable/
// server_error/invalid_request), and its retry-then-failover decision
// split (isProviderRetryable vs. shouldProviderFailover), generalized
// from the teacher's agent.LLMProvider/CompletionRequest onto
// core.Provider/core.CompletionRequest.
package failover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/forgerun/core/internal/core"
)

// Config configures an Orchestrator.
type Config struct {
	MaxRetries              int
	RetryBackoff            time.Duration
	MaxRetryBackoff         time.Duration
	FailoverOnRateLimit     bool
	FailoverOnServerError   bool
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

func (c Config) sanitized() Config {
	out := c
	if out.MaxRetries <= 0 {
		out.MaxRetries = 2
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 100 * time.Millisecond
	}
	if out.MaxRetryBackoff <= 0 {
		out.MaxRetryBackoff = 5 * time.Second
	}
	if out.CircuitBreakerThreshold <= 0 {
		out.CircuitBreakerThreshold = 3
	}
	if out.CircuitBreakerTimeout <= 0 {
		out.CircuitBreakerTimeout = 30 * time.Second
	}
	out.FailoverOnRateLimit = true
	out.FailoverOnServerError = true
	return out
}

type providerState struct {
	failures      int
	lastFailure   time.Time
	circuitOpen   bool
	circuitOpenAt time.Time
}

func (s *providerState) isAvailable(cfg Config) bool {
	if !s.circuitOpen {
		return true
	}
	return time.Since(s.circuitOpenAt) > cfg.CircuitBreakerTimeout
}

// Metrics is a snapshot of an Orchestrator's failover activity.
type Metrics struct {
	TotalRequests    int64
	TotalFailovers   int64
	TotalRetries     int64
	ProviderFailures map[string]int64
	CircuitBreaks    int64
}

// Orchestrator implements core.Provider over a priority-ordered list of
// providers, failing over on transient or provider-unavailable errors.
type Orchestrator struct {
	providers []core.Provider
	cfg       Config

	mu      sync.RWMutex
	states  map[string]*providerState
	metrics Metrics
}

// New builds an Orchestrator trying providers in the given priority
// order. It returns an error if no providers are given.
func New(cfg Config, providers ...core.Provider) (*Orchestrator, error) {
	if len(providers) == 0 {
		return nil, errors.New("failover: at least one provider is required")
	}
	return &Orchestrator{
		providers: providers,
		cfg:       cfg.sanitized(),
		states:    make(map[string]*providerState),
		metrics:   Metrics{ProviderFailures: make(map[string]int64)},
	}, nil
}

// Name implements core.Provider.
func (o *Orchestrator) Name() string {
	return "failover:" + o.providers[0].Name()
}

// SupportsTools implements core.Provider.
func (o *Orchestrator) SupportsTools() bool {
	for _, p := range o.providers {
		if p.SupportsTools() {
			return true
		}
	}
	return false
}

// Complete implements core.Provider by draining one CompleteStream call.
func (o *Orchestrator) Complete(ctx context.Context, req core.CompletionRequest) (core.CompletionResponse, error) {
	chunks, err := o.CompleteStream(ctx, req)
	if err != nil {
		return core.CompletionResponse{}, err
	}

	var text strings.Builder
	var toolCalls []core.ToolCall
	var usage core.Usage
	var finish core.FinishReason

	for chunk := range chunks {
		text.WriteString(chunk.DeltaText)
		toolCalls = append(toolCalls, chunk.DeltaToolCalls...)
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	if finish == core.FinishError {
		return core.CompletionResponse{}, core.Wrap(core.CategoryProvider, core.TagProviderError, "failover: all providers failed", nil)
	}

	return core.CompletionResponse{
		Message: core.Message{
			Role:      core.RoleAssistant,
			Content:   []core.ContentBlock{{Type: core.ContentText, Text: text.String()}},
			ToolCalls: toolCalls,
			Timestamp: time.Now(),
		},
		Usage:        usage,
		FinishReason: finish,
	}, nil
}

// CompleteStream implements core.Provider: tries each provider in
// priority order, skipping ones whose circuit is open, retrying each
// with backoff before failing over to the next.
func (o *Orchestrator) CompleteStream(ctx context.Context, req core.CompletionRequest) (<-chan core.CompletionChunk, error) {
	o.mu.Lock()
	o.metrics.TotalRequests++
	o.mu.Unlock()

	var lastErr error

	for i, provider := range o.providers {
		state := o.stateFor(provider.Name())
		if !state.isAvailable(o.cfg) {
			continue
		}

		chunks, err := o.tryProvider(ctx, provider, req)
		if err == nil {
			o.recordSuccess(provider.Name())
			return chunks, nil
		}

		lastErr = err
		o.recordFailure(provider.Name())

		if !o.shouldFailover(err) {
			return nil, err
		}
		if i < len(o.providers)-1 {
			o.mu.Lock()
			o.metrics.TotalFailovers++
			o.mu.Unlock()
		}
	}

	if lastErr == nil {
		lastErr = errors.New("failover: no available providers")
	}
	return nil, lastErr
}

func (o *Orchestrator) tryProvider(ctx context.Context, provider core.Provider, req core.CompletionRequest) (<-chan core.CompletionChunk, error) {
	var lastErr error
	backoff := o.cfg.RetryBackoff

	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		chunks, err := provider.CompleteStream(ctx, req)
		if err == nil {
			return chunks, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= o.cfg.MaxRetries {
			break
		}

		o.mu.Lock()
		o.metrics.TotalRetries++
		o.mu.Unlock()

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > o.cfg.MaxRetryBackoff {
				backoff = o.cfg.MaxRetryBackoff
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("failover: provider %s exhausted retries: %w", provider.Name(), lastErr)
}

func (o *Orchestrator) shouldFailover(err error) bool {
	reason := classify(err)
	switch reason {
	case "billing", "auth", "model_unavailable":
		return true
	}
	if o.cfg.FailoverOnRateLimit && reason == "rate_limit" {
		return true
	}
	if o.cfg.FailoverOnServerError && reason == "server_error" {
		return true
	}
	return false
}

func isRetryable(err error) bool {
	switch classify(err) {
	case "rate_limit", "timeout", "server_error":
		return true
	default:
		return false
	}
}

// classify determines the error category from its message, mirroring
// the teacher's classifyProviderError taxonomy.
func classify(err error) string {
	if err == nil {
		return "unknown"
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "context deadline"):
		return "timeout"
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate_limit"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "429"):
		return "rate_limit"
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"), strings.Contains(msg, "authentication"), strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return "auth"
	case strings.Contains(msg, "billing"), strings.Contains(msg, "payment"), strings.Contains(msg, "quota"), strings.Contains(msg, "402"):
		return "billing"
	case strings.Contains(msg, "model not found"), strings.Contains(msg, "does not exist"), strings.Contains(msg, "unavailable"):
		return "model_unavailable"
	case strings.Contains(msg, "internal server"), strings.Contains(msg, "server error"), strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return "server_error"
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "bad request"), strings.Contains(msg, "400"):
		return "invalid_request"
	default:
		return "unknown"
	}
}

func (o *Orchestrator) stateFor(name string) *providerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.states[name]
	if !ok {
		state = &providerState{}
		o.states[name] = state
	}
	return state
}

func (o *Orchestrator) recordSuccess(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	state := o.states[name]
	if state == nil {
		return
	}
	state.failures = 0
	state.circuitOpen = false
}

func (o *Orchestrator) recordFailure(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, ok := o.states[name]
	if !ok {
		state = &providerState{}
		o.states[name] = state
	}
	state.failures++
	state.lastFailure = time.Now()

	if state.failures >= o.cfg.CircuitBreakerThreshold && !state.circuitOpen {
		state.circuitOpen = true
		state.circuitOpenAt = time.Now()
		o.metrics.CircuitBreaks++
	}
	o.metrics.ProviderFailures[name]++
}

// Metrics returns a snapshot of failover activity.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	failures := make(map[string]int64, len(o.metrics.ProviderFailures))
	for k, v := range o.metrics.ProviderFailures {
		failures[k] = v
	}
	return Metrics{
		TotalRequests:    o.metrics.TotalRequests,
		TotalFailovers:   o.metrics.TotalFailovers,
		TotalRetries:     o.metrics.TotalRetries,
		ProviderFailures: failures,
		CircuitBreaks:    o.metrics.CircuitBreaks,
	}
}

// ProviderState is a point-in-time view of one provider's health.
type ProviderState struct {
	Name        string
	Failures    int
	LastFailure time.Time
	CircuitOpen bool
}

// ProviderStates returns the current health of every provider that has
// recorded at least one request outcome.
func (o *Orchestrator) ProviderStates() []ProviderState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	states := make([]ProviderState, 0, len(o.states))
	for name, s := range o.states {
		states = append(states, ProviderState{
			Name:        name,
			Failures:    s.failures,
			LastFailure: s.lastFailure,
			CircuitOpen: s.circuitOpen,
		})
	}
	return states
}

// ResetCircuitBreaker clears the circuit breaker state for one provider.
func (o *Orchestrator) ResetCircuitBreaker(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if state, ok := o.states[name]; ok {
		state.failures = 0
		state.circuitOpen = false
	}
}

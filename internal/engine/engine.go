// Package engine implements the Engine Facade (spec §4.8): it binds a
// Provider, the Tool Registry, the Permission Arbiter, the Worker Pool, and
// the Execution Plan Engine into one external API surface — createSession,
// run, runStream, registerWorker, registerTool, snapshotSession, shutdown —
// and publishes lifecycle events for every operation.
//
// Grounded on internal/multiagent/orchestrator.go's Orchestrator, which
// binds provider/registry/router/sessions/policy behind RegisterAgent/
// Process and an event callback; generalized here from "agent
// orchestrator" to the spec's exact facade surface, with the event
// callback replaced by core.EventSink.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgerun/core/internal/circuitbreaker"
	"github.com/forgerun/core/internal/convloop"
	"github.com/forgerun/core/internal/core"
	"github.com/forgerun/core/internal/permission"
	"github.com/forgerun/core/internal/planengine"
	"github.com/forgerun/core/internal/swarm"
	"github.com/forgerun/core/internal/toolregistry"
)

// Config configures an Engine at construction time.
type Config struct {
	DispatchStrategy swarm.Strategy
	SwarmConfig      swarm.Config
	BreakerConfig    circuitbreaker.Config
	LoopOptions      convloop.Options
	Consent          permission.UserConsent
}

func (c Config) sanitized() Config {
	out := c
	if out.DispatchStrategy == "" {
		out.DispatchStrategy = swarm.LeastLoaded
	}
	return out
}

// Engine is the bound facade over every orchestration subsystem. It owns no
// business logic of its own: each method delegates to the Tool Registry,
// Permission Arbiter, Worker Pool, Plan Engine, or Conversation Loop, and
// layers session lifecycle + event publication on top.
type Engine struct {
	cfg Config

	provider core.Provider
	tools    *toolregistry.Registry
	perms    *permission.Arbiter
	breakers *circuitbreaker.Registry
	workers  *swarm.Pool
	plans    *planengine.Engine
	loop     *convloop.Loop
	sink     core.EventSink

	mu       sync.Mutex
	sessions map[string]*core.Session
}

// New builds an Engine from its collaborators. provider may be nil and set
// later only in tests that never call Run/RunStream.
func New(provider core.Provider, sink core.EventSink, cfg Config) *Engine {
	if sink == nil {
		sink = core.NoopEventSink
	}
	cfg = cfg.sanitized()

	tools := toolregistry.New()
	perms := permission.New(cfg.Consent)
	breakers := circuitbreaker.NewRegistry(cfg.BreakerConfig)
	workers := swarm.New(cfg.SwarmConfig, breakers, sink)
	plans := planengine.New(tools, perms, sink)
	loop := convloop.New(provider, workers, plans, sink)

	return &Engine{
		cfg:      cfg,
		provider: provider,
		tools:    tools,
		perms:    perms,
		breakers: breakers,
		workers:  workers,
		plans:    plans,
		loop:     loop,
		sink:     sink,
		sessions: make(map[string]*core.Session),
	}
}

func (e *Engine) emit(t core.EventType, correlationID string, payload any) {
	e.sink.Publish(core.Event{Type: t, Timestamp: time.Now(), CorrelationID: correlationID, Payload: payload})
}

// RegisterWorker adds a worker to the Worker Pool.
func (e *Engine) RegisterWorker(cfg core.WorkerConfig) {
	e.workers.Register(cfg)
	e.emit(core.EventWorkerRegistered, cfg.ID, cfg)
}

// UnregisterWorker removes a worker from the Worker Pool.
func (e *Engine) UnregisterWorker(id string) {
	e.workers.Unregister(id)
	e.emit(core.EventWorkerUnregistered, id, nil)
}

// Workers exposes the Worker Pool so callers can drive ambient operations
// the facade itself never schedules, such as a cron-driven stale-health
// probe.
func (e *Engine) Workers() *swarm.Pool {
	return e.workers
}

// RegisterTool adds a tool definition to the Tool Registry.
func (e *Engine) RegisterTool(def core.ToolDefinition) error {
	return e.tools.Register(def)
}

// CreateSession starts a new session with the given initial worker and
// context variables, returning its generated ID. If initialWorkerID is
// empty, the initial worker is chosen via the engine's configured dispatch
// strategy (spec §4.5/§4.6), keyed on the new session's generated ID.
func (e *Engine) CreateSession(initialWorkerID string, initialCtx core.ContextVariables) (*core.Session, error) {
	sessionID := uuid.NewString()

	if initialWorkerID == "" {
		picked, err := e.workers.Dispatch(sessionID, e.cfg.DispatchStrategy, nil)
		if err != nil {
			return nil, err
		}
		initialWorkerID = picked
		e.workers.Release(picked)
	} else if _, ok := e.workers.Get(initialWorkerID); !ok {
		return nil, core.New(core.CategoryOrchestration, core.TagNoHealthyWorker, "initial worker "+initialWorkerID+" is not registered")
	}

	now := time.Now()
	sess := &core.Session{
		ID:                  sessionID,
		ContextVariables:    initialCtx.Clone(),
		ActiveWorkerID:      initialWorkerID,
		PermissionDecisions: make(map[string]string),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	e.mu.Lock()
	e.sessions[sess.ID] = sess
	e.mu.Unlock()

	e.emit(core.EventSessionCreated, sess.ID, sess.Clone())
	return sess, nil
}

func (e *Engine) getSession(id string) (*core.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[id]
	if !ok {
		return nil, core.New(core.CategoryValidation, core.TagInvalidState, "session "+id+" does not exist")
	}
	return sess, nil
}

// Run drives one Conversation Loop pass (spec §4.7) for sessionID with the
// given new user message, appends the loop's resulting messages to the
// session, and returns the loop result.
func (e *Engine) Run(ctx context.Context, sessionID string, userMessage core.Message, opts convloop.Options) (convloop.Result, error) {
	sess, err := e.getSession(sessionID)
	if err != nil {
		return convloop.Result{}, err
	}

	e.mu.Lock()
	history := append([]core.Message(nil), sess.History...)
	ctxVars := sess.ContextVariables.Clone()
	e.mu.Unlock()

	history = append(history, userMessage)
	if opts.InitialWorkerID == "" {
		opts.InitialWorkerID = sess.ActiveWorkerID
	}

	result, err := e.loop.Run(ctx, sessionID, history, nil, ctxVars, opts)
	if err != nil {
		return convloop.Result{}, err
	}

	e.applyResult(sess, userMessage, result)
	return result, nil
}

// RunStream is the streaming variant of Run.
func (e *Engine) RunStream(ctx context.Context, sessionID string, userMessage core.Message, opts convloop.Options) (convloop.Result, error) {
	sess, err := e.getSession(sessionID)
	if err != nil {
		return convloop.Result{}, err
	}

	e.mu.Lock()
	history := append([]core.Message(nil), sess.History...)
	ctxVars := sess.ContextVariables.Clone()
	e.mu.Unlock()

	history = append(history, userMessage)
	if opts.InitialWorkerID == "" {
		opts.InitialWorkerID = sess.ActiveWorkerID
	}

	result, err := e.loop.RunStream(ctx, sessionID, history, nil, ctxVars, opts)
	if err != nil {
		return convloop.Result{}, err
	}

	e.applyResult(sess, userMessage, result)
	return result, nil
}

func (e *Engine) applyResult(sess *core.Session, userMessage core.Message, result convloop.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess.Append(userMessage)
	for _, m := range result.Appended {
		sess.Append(m)
	}
	sess.ContextVariables = result.ContextVariables
	sess.ActiveWorkerID = result.ActiveWorkerID
}

// SnapshotSession returns a deep-enough copy of sessionID's current state
// for safe inspection (spec §4.8/§6).
func (e *Engine) SnapshotSession(sessionID string) (*core.Session, error) {
	sess, err := e.getSession(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return sess.Clone(), nil
}

// Shutdown stops accepting new work. It does not cancel in-flight Run/
// RunStream calls — callers own their own context.Context cancellation for
// that; Shutdown's role is releasing the facade's own held state so a
// second Engine can safely take over the same workers/tools.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions = make(map[string]*core.Session)
}

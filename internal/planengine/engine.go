package planengine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/forgerun/core/internal/core"
	"github.com/forgerun/core/internal/permission"
	"github.com/forgerun/core/internal/toolregistry"
)

// ToolResolver looks up a tool's definition by ID, used to consult the
// Permission Arbiter and to invoke the Tool Registry.
type ToolResolver interface {
	Lookup(name string) (core.ToolDefinition, bool)
	Invoke(ctx context.Context, name string, input string, invCtx core.ToolInvocationContext) (core.ToolResult, error)
}

var _ ToolResolver = (*toolregistry.Registry)(nil)

// Engine builds, validates, schedules, and executes plans under the four
// modes of spec §4.4. Grounded on internal/multiagent/swarm.go's Swarm
// (stage-barrier bounded-semaphore execution) generalized into four
// scheduling-mode strategies sharing one step-execution routine, and on
// internal/agent/executor.go's retry/backoff and timeout/cancellation/
// panic translation (consumed indirectly via ToolResolver.Invoke).
type Engine struct {
	registry ToolResolver
	arbiter  *permission.Arbiter
	sink     core.EventSink

	mu    sync.Mutex
	plans map[string]*planState
}

type planState struct {
	mu            sync.Mutex
	plan          *core.ExecutionPlan
	graph         *Graph
	rollback      []core.RollbackRecord
	cancel        context.CancelFunc
	pauseCh       chan struct{}
	paused        bool
}

// New creates an Engine bound to a tool registry, permission arbiter, and
// event sink.
func New(registry ToolResolver, arbiter *permission.Arbiter, sink core.EventSink) *Engine {
	if sink == nil {
		sink = core.NoopEventSink
	}
	return &Engine{
		registry: registry,
		arbiter:  arbiter,
		sink:     sink,
		plans:    make(map[string]*planState),
	}
}

func (e *Engine) emit(t core.EventType, correlationID string, payload any) {
	e.sink.Publish(core.Event{Type: t, Timestamp: time.Now(), CorrelationID: correlationID, Payload: payload})
}

// CreatePlan validates and stores a new plan under the given scheduling
// mode (spec §4.4). Fails with TagInvalidPlan on cycles, dangling
// dependencies, or duplicate step IDs.
func (e *Engine) CreatePlan(sessionID string, steps []*core.ExecutionStep, mode core.SchedulingMode, cfg core.PlanConfig) (*core.ExecutionPlan, error) {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}
	if cfg.RetryMultiplier <= 0 {
		cfg.RetryMultiplier = 2.0
	}

	for _, s := range steps {
		s.Status = core.StepPending
	}
	graph, err := Build(steps)
	if err != nil {
		return nil, err
	}

	planID := newID("plan")
	stepMap := make(map[string]*core.ExecutionStep, len(steps))
	order := make([]string, 0, len(steps))
	for _, s := range steps {
		s.PlanID = planID
		stepMap[s.ID] = s
		order = append(order, s.ID)
	}

	if mode == "" {
		mode = core.ModeSequential
	}

	plan := &core.ExecutionPlan{
		ID:        planID,
		SessionID: sessionID,
		Steps:     stepMap,
		Order:     order,
		Mode:      mode,
		Status:    core.PlanCreated,
		Config:    cfg,
		CreatedAt: time.Now(),
	}

	e.mu.Lock()
	e.plans[planID] = &planState{plan: plan, graph: graph}
	e.mu.Unlock()

	e.emit(core.EventPlanCreated, planID, plan)
	return plan, nil
}

// GetPlan returns a read-only snapshot of the plan.
func (e *Engine) GetPlan(planID string) (*core.ExecutionPlan, bool) {
	e.mu.Lock()
	ps, ok := e.plans[planID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return snapshotPlan(ps.plan), true
}

func snapshotPlan(p *core.ExecutionPlan) *core.ExecutionPlan {
	cp := *p
	cp.Steps = make(map[string]*core.ExecutionStep, len(p.Steps))
	for id, s := range p.Steps {
		sc := *s
		cp.Steps[id] = &sc
	}
	cp.Order = append([]string(nil), p.Order...)
	return &cp
}

// Execute runs planID to completion under its configured scheduling mode.
// Re-invoking a plan that is not Created fails with TagInvalidState.
func (e *Engine) Execute(ctx context.Context, planID string) (*core.ExecutionPlan, error) {
	e.mu.Lock()
	ps, ok := e.plans[planID]
	e.mu.Unlock()
	if !ok {
		return nil, core.New(core.CategoryValidation, core.TagInvalidState, "unknown plan "+planID)
	}

	ps.mu.Lock()
	if ps.plan.Status != core.PlanCreated {
		status := ps.plan.Status
		ps.mu.Unlock()
		return nil, core.New(core.CategoryValidation, core.TagInvalidState, fmt.Sprintf("plan %s is %s, not created", planID, status))
	}
	ps.plan.Status = core.PlanRunning
	now := time.Now()
	ps.plan.StartedAt = &now
	execCtx, cancel := context.WithCancel(ctx)
	ps.cancel = cancel
	ps.pauseCh = make(chan struct{})
	close(ps.pauseCh) // not paused
	ps.mu.Unlock()
	defer cancel()

	e.emit(core.EventPlanStarted, planID, nil)

	if ps.plan.Config.PlanTimeout > 0 {
		var timeoutCancel context.CancelFunc
		execCtx, timeoutCancel = context.WithTimeout(execCtx, ps.plan.Config.PlanTimeout)
		defer timeoutCancel()
	}

	var runErr error
	switch ps.plan.Mode {
	case core.ModeSequential:
		runErr = e.runSequential(execCtx, ps)
	case core.ModeParallel:
		runErr = e.runParallel(execCtx, ps)
	case core.ModeAdaptive:
		runErr = e.runAdaptive(execCtx, ps)
	case core.ModePriority:
		runErr = e.runPriority(execCtx, ps)
	default:
		runErr = e.runSequential(execCtx, ps)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if execCtx.Err() == context.DeadlineExceeded {
		ps.plan.Status = core.PlanFailed
		runErr = core.New(core.CategoryOrchestration, core.TagPlanTimeout, "plan exceeded its timeout")
	} else if execCtx.Err() == context.Canceled && ctx.Err() == nil {
		// cancelled by us (e.g. Cancel()), not by the caller's ctx
		ps.plan.Status = core.PlanCancelled
	} else if runErr != nil {
		ps.plan.Status = core.PlanFailed
	}

	if ps.plan.Status == core.PlanFailed && ps.plan.Config.RollbackOnFailure {
		e.rollbackLocked(ps)
	} else if ps.plan.Status == core.PlanRunning {
		ps.plan.Status = core.PlanCompleted
	}

	completed := time.Now()
	ps.plan.CompletedAt = &completed

	if ps.plan.Status == core.PlanCompleted {
		e.emit(core.EventPlanCompleted, planID, nil)
	} else if ps.plan.Status == core.PlanFailed || ps.plan.Status == core.PlanRolledBack {
		e.emit(core.EventPlanFailed, planID, runErr)
	}

	return snapshotPlan(ps.plan), runErr
}

// rollbackLocked executes the plan's rollback stack LIFO (spec §4.4 plan-
// level failure policy). Caller must hold ps.mu.
func (e *Engine) rollbackLocked(ps *planState) {
	e.emit(core.EventRollbackStarted, ps.plan.ID, nil)
	for i := len(ps.rollback) - 1; i >= 0; i-- {
		rec := ps.rollback[i]
		for j := len(rec.Actions) - 1; j >= 0; j-- {
			action := rec.Actions[j]
			if action.Run == nil {
				continue
			}
			if err := action.Run(); err != nil {
				// Logged, not fatal: rollback continues per spec §4.4.
				e.emit(core.EventRollbackActionFailed, ps.plan.ID, err)
			}
		}
	}
	ps.plan.Status = core.PlanRolledBack
	ps.plan.Metrics.RollbackCount++
	e.emit(core.EventRollbackCompleted, ps.plan.ID, nil)
}

// Cancel requests cancellation of an in-flight plan. Idempotent per spec
// invariant 4.
func (e *Engine) Cancel(planID string) error {
	e.mu.Lock()
	ps, ok := e.plans[planID]
	e.mu.Unlock()
	if !ok {
		return core.New(core.CategoryValidation, core.TagInvalidState, "unknown plan "+planID)
	}
	ps.mu.Lock()
	cancel := ps.cancel
	ps.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Pause suspends dispatch of new steps. Pausing a completed plan is a
// no-op.
func (e *Engine) Pause(planID string) error {
	e.mu.Lock()
	ps, ok := e.plans[planID]
	e.mu.Unlock()
	if !ok {
		return core.New(core.CategoryValidation, core.TagInvalidState, "unknown plan "+planID)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.plan.Status != core.PlanRunning || ps.paused {
		return nil
	}
	ps.paused = true
	ps.plan.Status = core.PlanPaused
	ps.pauseCh = make(chan struct{})
	return nil
}

// Resume un-suspends a paused plan. Idempotent.
func (e *Engine) Resume(planID string) error {
	e.mu.Lock()
	ps, ok := e.plans[planID]
	e.mu.Unlock()
	if !ok {
		return core.New(core.CategoryValidation, core.TagInvalidState, "unknown plan "+planID)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if !ps.paused {
		return nil
	}
	ps.paused = false
	ps.plan.Status = core.PlanRunning
	close(ps.pauseCh)
	return nil
}

func (ps *planState) waitIfPaused(ctx context.Context) {
	ps.mu.Lock()
	ch := ps.pauseCh
	ps.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

func backoffDuration(cfg core.PlanConfig, retryCount int) time.Duration {
	d := float64(cfg.RetryBaseDelay)
	for i := 0; i < retryCount; i++ {
		d *= cfg.RetryMultiplier
	}
	capped := float64(cfg.RetryMaxDelay)
	if d > capped {
		d = capped
	}
	return time.Duration(d)
}

func sortByPriorityThenInsertion(ids []string, order map[string]int, steps map[string]*core.ExecutionStep) {
	sort.SliceStable(ids, func(i, j int) bool {
		pi, pj := steps[ids[i]].Priority, steps[ids[j]].Priority
		if pi != pj {
			return pi > pj
		}
		return order[ids[i]] < order[ids[j]]
	})
}

func newID(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), idCounter.next())
}

type counter struct {
	mu sync.Mutex
	n  int64
}

func (c *counter) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

var idCounter = &counter{}

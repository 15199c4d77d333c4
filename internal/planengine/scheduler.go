package planengine

import (
	"context"
	"sync"
	"time"

	"github.com/forgerun/core/internal/core"
)

// readyLocked snapshots the current ready set under the plan's lock, since
// step.Status is mutated under that same lock from executeStep.
func (e *Engine) readyLocked(ps *planState) []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.graph.Ready()
}

func (e *Engine) terminalLocked(ps *planState) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.graph.Terminal()
}

// dispatch runs one step, retrying internally until it reaches a terminal
// status, respecting pause.
func (e *Engine) dispatch(ctx context.Context, ps *planState, stepID string) {
	ps.waitIfPaused(ctx)
	for {
		if ctx.Err() != nil {
			return
		}
		done := e.executeStep(ctx, ps, stepID)
		if done {
			return
		}
		ps.waitIfPaused(ctx)
	}
}

// runSequential executes steps one at a time in supplied order (spec
// §4.4). A failed step aborts the plan unless retryFailed is set and
// retries remain — executeStep already retries internally, so by the time
// dispatch returns the step is terminal; if it is Failed here, the plan
// aborts.
func (e *Engine) runSequential(ctx context.Context, ps *planState) error {
	ps.mu.Lock()
	order := append([]string(nil), ps.plan.Order...)
	ps.mu.Unlock()

	for _, id := range order {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.waitDependencies(ctx, ps, id)
		e.dispatch(ctx, ps, id)

		ps.mu.Lock()
		status := ps.plan.Steps[id].Status
		ps.mu.Unlock()
		if status == core.StepFailed {
			return core.New(core.CategoryExecution, core.TagToolError, "sequential step "+id+" failed")
		}
	}
	return nil
}

// waitDependencies blocks, with a bounded sleep poll, until every
// dependency of id has reached a terminal status.
func (e *Engine) waitDependencies(ctx context.Context, ps *planState, id string) {
	for {
		ps.mu.Lock()
		step := ps.plan.Steps[id]
		ready := ps.graph.dependenciesCompleted(step)
		blocked := false
		for _, dep := range step.Dependencies {
			if ps.plan.Steps[dep].Status == core.StepFailed || ps.plan.Steps[dep].Status == core.StepSkipped {
				blocked = true
			}
		}
		ps.mu.Unlock()
		if ready || blocked || ctx.Err() != nil {
			return
		}
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

// runParallel executes the plan in rounds: each round takes the entire
// current ready set, runs it with concurrency bounded by maxParallel, waits
// for the whole round to finish, then recomputes readiness (spec §4.4).
func (e *Engine) runParallel(ctx context.Context, ps *planState) error {
	sem := make(chan struct{}, ps.plan.Config.MaxParallel)
	failed := false

	for {
		if e.terminalLocked(ps) || ctx.Err() != nil {
			break
		}
		ready := e.readyLocked(ps)
		if len(ready) == 0 {
			if e.anyRunningLocked(ps) {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			break
		}

		var wg sync.WaitGroup
		for _, id := range ready {
			id := id
			wg.Add(1)
			go func() {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				defer func() { <-sem }()
				e.dispatch(ctx, ps, id)
			}()
		}
		wg.Wait()

		ps.mu.Lock()
		for _, id := range ready {
			if ps.plan.Steps[id].Status == core.StepFailed {
				failed = true
			}
		}
		ps.mu.Unlock()
		if failed {
			break
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failed {
		return core.New(core.CategoryExecution, core.TagToolError, "a parallel step failed")
	}
	return nil
}

func (e *Engine) anyRunningLocked(ps *planState) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, id := range ps.plan.Order {
		if ps.plan.Steps[id].Status == core.StepRunning || ps.plan.Steps[id].Status == core.StepWaitingPermission {
			return true
		}
	}
	return false
}

// runAdaptive maintains a running in-flight set bounded by maxParallel,
// dispatching the next Ready step (insertion order) whenever capacity
// frees up, terminating when no step is Pending, Ready, or Running (spec
// §4.4).
func (e *Engine) runAdaptive(ctx context.Context, ps *planState) error {
	sem := make(chan struct{}, ps.plan.Config.MaxParallel)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := false
	dispatched := make(map[string]bool)

	for {
		if ctx.Err() != nil {
			break
		}
		if e.terminalLocked(ps) {
			break
		}

		ready := e.readyLocked(ps)
		progressed := false
		for _, id := range ready {
			mu.Lock()
			already := dispatched[id]
			mu.Unlock()
			if already {
				continue
			}
			select {
			case sem <- struct{}{}:
			default:
				continue
			}
			mu.Lock()
			dispatched[id] = true
			mu.Unlock()
			progressed = true

			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				defer func() { <-sem }()
				e.dispatch(ctx, ps, id)
				mu.Lock()
				if ps.plan.Steps[id].Status == core.StepFailed {
					failed = true
				}
				mu.Unlock()
			}(id)
		}

		if !progressed {
			if e.anyRunningLocked(ps) {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	wg.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failed {
		return core.New(core.CategoryExecution, core.TagToolError, "an adaptive step failed")
	}
	return nil
}

// runPriority sorts steps by priority descending (ties by insertion
// order), and for each waits until its dependencies are Completed before
// executing, with total concurrency bounded by maxParallel (spec §4.4).
func (e *Engine) runPriority(ctx context.Context, ps *planState) error {
	ps.mu.Lock()
	order := append([]string(nil), ps.plan.Order...)
	insertionIndex := make(map[string]int, len(order))
	for i, id := range order {
		insertionIndex[id] = i
	}
	steps := ps.plan.Steps
	ps.mu.Unlock()

	sortByPriorityThenInsertion(order, insertionIndex, steps)

	sem := make(chan struct{}, ps.plan.Config.MaxParallel)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := false

	for _, id := range order {
		if ctx.Err() != nil {
			break
		}
		id := id
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.waitDependencies(ctx, ps, id)
			e.dispatch(ctx, ps, id)
			mu.Lock()
			if ps.plan.Steps[id].Status == core.StepFailed {
				failed = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failed {
		return core.New(core.CategoryExecution, core.TagToolError, "a priority step failed")
	}
	return nil
}

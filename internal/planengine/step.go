package planengine

import (
	"context"
	"time"

	"github.com/forgerun/core/internal/core"
	"github.com/forgerun/core/internal/permission"
)

// executeStep runs the per-step protocol from spec §4.4:
//
//  1. consult the Permission Arbiter; Prompt suspends the step.
//  2. mark Running, invoke the Tool Registry.
//  3. on success, mark Completed and push a RollbackRecord if the result
//     reported side effects.
//  4. on failure, retry with exponential backoff if recoverable and
//     retries remain; otherwise mark Failed.
//
// It returns true if the step ultimately reached a terminal, non-retrying
// status in this call (Completed/Failed/Skipped); false if it was reset to
// Pending for another scheduling pass (a retry).
func (e *Engine) executeStep(ctx context.Context, ps *planState, stepID string) bool {
	ps.mu.Lock()
	step := ps.plan.Steps[stepID]
	planID := ps.plan.ID
	sessionID := ps.plan.SessionID
	cfg := ps.plan.Config
	ps.mu.Unlock()

	def, ok := e.registry.Lookup(step.ToolID)
	if !ok {
		e.finishStep(ps, step, core.StepFailed, core.ToolResult{
			IsError: true,
			Error:   core.New(core.CategoryValidation, core.TagSchemaViolation, "unknown tool "+step.ToolID),
		})
		return true
	}

	policy := permission.PlanPolicy{AutoApprove: cfg.AutoApprove, RequireApproval: cfg.RequireApproval}
	decision := e.arbiter.Check(sessionID, step.ToolID, def, policy)

	if decision == permission.Prompt {
		ps.mu.Lock()
		step.Status = core.StepWaitingPermission
		ps.mu.Unlock()
		e.emit(core.EventPermissionRequested, planID, step.ID)

		decision = e.arbiter.ResolveViaConsent(sessionID, step.ToolID)
		e.emit(core.EventPermissionGranted, planID, map[string]any{"stepId": step.ID, "decision": decision})
	}

	if decision != permission.Granted {
		e.finishStep(ps, step, core.StepSkipped, core.ToolResult{
			IsError: true,
			Error:   core.New(core.CategoryPermission, core.TagPermissionDenied, "permission denied for "+step.ToolID),
		})
		return true
	}

	ps.mu.Lock()
	started := time.Now()
	step.Status = core.StepRunning
	step.StartedAt = &started
	ps.mu.Unlock()
	e.emit(core.EventStepStarted, planID, step.ID)

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = cfg.StepTimeout
	}
	stepCtx := ctx
	var stepCancel context.CancelFunc
	if timeout > 0 {
		stepCtx, stepCancel = context.WithTimeout(ctx, timeout)
		defer stepCancel()
	}

	result, err := e.registry.Invoke(stepCtx, step.ToolID, step.Inputs, core.ToolInvocationContext{
		SessionID: sessionID,
		CallID:    step.ID,
	})

	if err == nil && !result.IsError {
		e.finishStep(ps, step, core.StepCompleted, result)
		return true
	}

	var toolErr error = err
	if toolErr == nil {
		toolErr = result.Error
	}
	if toolErr == nil {
		toolErr = core.New(core.CategoryExecution, core.TagToolError, "tool reported an error with no detail")
	}

	recoverable := core.IsRecoverable(toolErr)
	ps.mu.Lock()
	retriesLeft := step.RetryCount < step.MaxRetries
	ps.mu.Unlock()

	if recoverable && retriesLeft {
		ps.mu.Lock()
		step.RetryCount++
		retryCount := step.RetryCount
		step.Status = core.StepFailed
		step.CompletedAt = nil
		ps.plan.Metrics.RetryCount++
		ps.mu.Unlock()
		e.emit(core.EventStepFailed, planID, step.ID)

		delay := backoffDuration(cfg, retryCount)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return true
		}

		ps.mu.Lock()
		step.Status = core.StepPending
		step.StartedAt = nil
		ps.mu.Unlock()
		return false
	}

	e.finishStep(ps, step, core.StepFailed, result)
	return true
}

// finishStep records a terminal outcome for step, updates plan metrics,
// pushes a RollbackRecord on success-with-side-effects, and emits the
// matching completion event.
func (e *Engine) finishStep(ps *planState, step *core.ExecutionStep, status core.StepStatus, result core.ToolResult) {
	ps.mu.Lock()
	now := time.Now()
	step.Status = status
	step.CompletedAt = &now
	step.Result = &result

	switch status {
	case core.StepCompleted:
		ps.plan.Metrics.CompletedSteps++
		if len(result.SideEffects) > 0 || len(result.RollbackActions) > 0 {
			ps.rollback = append(ps.rollback, core.RollbackRecord{
				StepID:      step.ID,
				SideEffects: result.SideEffects,
				Actions:     result.RollbackActions,
			})
		}
	case core.StepFailed:
		ps.plan.Metrics.FailedSteps++
	case core.StepSkipped:
		ps.plan.Metrics.SkippedSteps++
	}
	planID := ps.plan.ID
	ps.mu.Unlock()

	switch status {
	case core.StepCompleted:
		e.emit(core.EventStepCompleted, planID, step.ID)
	case core.StepFailed:
		e.emit(core.EventStepFailed, planID, step.ID)
	}
}

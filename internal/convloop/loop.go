// Package convloop implements the Conversation Loop (spec §4.7): it drives
// one session's LLM turns, dispatches tool calls through the Execution
// Plan Engine as single-step plans, merges updated context variables, and
// resolves handoffs through the Worker Pool.
//
// Grounded on internal/agent/loop.go's AgenticLoop.Run phase machine
// (Init/Stream/ExecuteTools/Continue/Complete), generalized from a fixed
// Anthropic-shaped provider and registry-owned tool execution onto spec
// §4.7's provider-agnostic algorithm running tool calls through the
// Execution Plan Engine instead of loop.go's own parallel Executor. Per
// the resolved "two overlapping worker pool implementations" design
// question (see DESIGN.md), this package keeps loop.go's phase structure
// and does not port runtime.go's parallel Runtime implementation.
package convloop

import (
	"context"
	"time"

	"github.com/forgerun/core/internal/core"
	"github.com/forgerun/core/internal/planengine"
	"github.com/forgerun/core/internal/swarm"
)

// Options configures one Run/RunStream invocation. DisableToolExecution
// mirrors spec §4.7's "executeTools is false" stop condition; the zero
// value executes tools, matching the spec's default behavior.
type Options struct {
	InitialWorkerID      string
	MaxTurns             int
	DisableToolExecution bool
	ToolChoice           core.ToolChoice
	Model                string
}

func (o Options) sanitized() Options {
	out := o
	if out.MaxTurns <= 0 {
		out.MaxTurns = 10
	}
	if o.ToolChoice.Mode == "" {
		out.ToolChoice = core.ToolChoice{Mode: "auto"}
	}
	return out
}

// Result is the Conversation Loop's return value: the appended tail of
// history, the final active worker, and the final context variables.
type Result struct {
	Appended         []core.Message
	ActiveWorkerID   string
	ContextVariables core.ContextVariables
	Usage            core.Usage
	Cancelled        bool
}

// Loop binds a Provider, Worker Pool, and Execution Plan Engine into the
// Conversation Loop of spec §4.7.
type Loop struct {
	provider core.Provider
	workers  *swarm.Pool
	plans    *planengine.Engine
	sink     core.EventSink
}

// New creates a Loop.
func New(provider core.Provider, workers *swarm.Pool, plans *planengine.Engine, sink core.EventSink) *Loop {
	if sink == nil {
		sink = core.NoopEventSink
	}
	return &Loop{provider: provider, workers: workers, plans: plans, sink: sink}
}

func (l *Loop) emit(t core.EventType, correlationID string, payload any) {
	l.sink.Publish(core.Event{Type: t, Timestamp: time.Now(), CorrelationID: correlationID, Payload: payload})
}

// Run executes the Conversation Loop algorithm from spec §4.7 to
// completion and returns the appended tail of history, the final active
// worker, and the final context variables.
func (l *Loop) Run(ctx context.Context, sessionID string, history []core.Message, contextOverrides core.ContextVariables, baseCtx core.ContextVariables, opts Options) (Result, error) {
	opts = opts.sanitized()

	active := opts.InitialWorkerID
	if active == "" {
		return Result{}, core.New(core.CategoryValidation, core.TagInvalidState, "no initial worker specified and no default configured")
	}

	workerCfg, ok := l.workers.Get(active)
	if !ok {
		return Result{}, core.New(core.CategoryOrchestration, core.TagNoHealthyWorker, "initial worker "+active+" is not registered")
	}

	ctxVars := baseCtx.Merge(contextOverrides)
	var appended []core.Message
	var usage core.Usage

	for turn := 0; turn < opts.MaxTurns; turn++ {
		if ctx.Err() != nil {
			return Result{Appended: appended, ActiveWorkerID: active, ContextVariables: ctxVars, Cancelled: true, Usage: usage}, nil
		}

		systemMsg := core.Message{
			Role: core.RoleSystem,
			Content: []core.ContentBlock{{Type: core.ContentText, Text: workerCfg.ResolveInstructions(ctxVars)}},
		}
		fullHistory := append([]core.Message{systemMsg}, append(append([]core.Message(nil), history...), appended...)...)

		tools := make([]core.ToolDefinition, 0, len(workerCfg.Tools))
		for _, def := range workerCfg.Tools {
			tools = append(tools, def)
		}

		req := core.CompletionRequest{
			Messages:   fullHistory,
			Tools:      tools,
			ToolChoice: opts.ToolChoice,
			Model:      opts.Model,
		}

		resp, err := l.provider.Complete(ctx, req)
		if err != nil {
			return Result{}, core.Wrap(core.CategoryProvider, core.TagProviderError, "provider completion failed", err)
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens

		appended = append(appended, resp.Message)

		if len(resp.Message.ToolCalls) == 0 || opts.DisableToolExecution {
			return Result{Appended: appended, ActiveWorkerID: active, ContextVariables: ctxVars, Usage: usage}, nil
		}

		for _, call := range resp.Message.ToolCalls {
			toolMsg, updatedCtx, handoffTarget, err := l.runSingleStepPlan(ctx, sessionID, call)
			if err != nil {
				return Result{}, err
			}
			appended = append(appended, toolMsg)
			ctxVars = ctxVars.Merge(updatedCtx)

			if handoffTarget != "" {
				if err := l.workers.Handoff(active, handoffTarget); err != nil {
					return Result{}, err
				}
				newCfg, ok := l.workers.Get(handoffTarget)
				if !ok {
					return Result{}, core.New(core.CategoryOrchestration, core.TagHandoffTargetMissing, "handoff target "+handoffTarget+" vanished after Pool validation")
				}
				active = handoffTarget
				workerCfg = newCfg
			}
		}
	}

	return Result{Appended: appended, ActiveWorkerID: active, ContextVariables: ctxVars, Usage: usage}, nil
}

// runSingleStepPlan builds a one-step plan from a tool call and executes
// it through the Execution Plan Engine (spec §4.7 step 3).
func (l *Loop) runSingleStepPlan(ctx context.Context, sessionID string, call core.ToolCall) (core.Message, core.ContextVariables, string, error) {
	step := &core.ExecutionStep{
		ID:     call.ID,
		ToolID: call.Name,
		Inputs: call.ArgumentsJSON,
	}
	plan, err := l.plans.CreatePlan(sessionID, []*core.ExecutionStep{step}, core.ModeSequential, core.PlanConfig{AutoApprove: true})
	if err != nil {
		return core.Message{}, nil, "", err
	}

	result, err := l.plans.Execute(ctx, plan.ID)
	if err != nil && result == nil {
		return core.Message{}, nil, "", err
	}

	finished := result.Steps[call.ID]
	var toolResult core.ToolResult
	if finished != nil && finished.Result != nil {
		toolResult = *finished.Result
	}

	msg := core.Message{
		Role:       core.RoleTool,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    []core.ContentBlock{{Type: core.ContentToolResult, ToolResultUseID: call.ID, ToolResult: toolResult.Value, IsError: toolResult.IsError}},
		Timestamp:  time.Now(),
	}
	return msg, toolResult.UpdatedContextVars, toolResult.HandoffTarget, nil
}

package convloop

import (
	"context"
	"time"

	"github.com/forgerun/core/internal/core"
)

// RunStream is the streaming variant of Run (spec §4.7): identical turn
// algorithm, but each turn's provider response arrives as chunks. Tool
// execution happens only after a turn finishes streaming, exactly as in
// Run.
func (l *Loop) RunStream(ctx context.Context, sessionID string, history []core.Message, contextOverrides core.ContextVariables, baseCtx core.ContextVariables, opts Options) (Result, error) {
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

		l.emit(core.EventTurnStart, sessionID, map[string]any{"turn": turn, "activeWorker": active})

		systemMsg := core.Message{
			Role:    core.RoleSystem,
			Content: []core.ContentBlock{{Type: core.ContentText, Text: workerCfg.ResolveInstructions(ctxVars)}},
		}
		fullHistory := append([]core.Message{systemMsg}, append(append([]core.Message(nil), history...), appended...)...)

		tools := make([]core.ToolDefinition, 0, len(workerCfg.Tools))
		for _, def := range workerCfg.Tools {
			tools = append(tools, def)
		}

		req := core.CompletionRequest{Messages: fullHistory, Tools: tools, ToolChoice: opts.ToolChoice, Model: opts.Model}

		chunkCh, err := l.provider.CompleteStream(ctx, req)
		if err != nil {
			return Result{}, core.Wrap(core.CategoryProvider, core.TagProviderError, "provider stream failed to start", err)
		}

		var text string
		var toolCalls []core.ToolCall
		var finish core.FinishReason
		for chunk := range chunkCh {
			if chunk.DeltaText != "" {
				text += chunk.DeltaText
				l.emit(core.EventTurnDelta, sessionID, map[string]any{"turn": turn, "text": chunk.DeltaText})
			}
			if len(chunk.DeltaToolCalls) > 0 {
				toolCalls = append(toolCalls, chunk.DeltaToolCalls...)
			}
			if chunk.Usage != nil {
				usage.PromptTokens += chunk.Usage.PromptTokens
				usage.CompletionTokens += chunk.Usage.CompletionTokens
			}
			if chunk.FinishReason != "" {
				finish = chunk.FinishReason
			}
			if ctx.Err() != nil {
				break
			}
		}

		assistantMsg := core.Message{
			Role:      core.RoleAssistant,
			Content:   []core.ContentBlock{{Type: core.ContentText, Text: text}},
			ToolCalls: toolCalls,
			Timestamp: time.Now(),
		}
		appended = append(appended, assistantMsg)

		l.emit(core.EventTurnEnd, sessionID, map[string]any{"turn": turn, "finishReason": finish})

		if ctx.Err() != nil {
			return Result{Appended: appended, ActiveWorkerID: active, ContextVariables: ctxVars, Cancelled: true, Usage: usage}, nil
		}

		if len(toolCalls) == 0 || opts.DisableToolExecution {
			return Result{Appended: appended, ActiveWorkerID: active, ContextVariables: ctxVars, Usage: usage}, nil
		}

		for _, call := range toolCalls {
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

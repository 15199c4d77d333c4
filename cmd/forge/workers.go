package main

import (
	"time"

	"github.com/forgerun/core/internal/core"
)

// builtinWorkers returns the example workers Forge registers with a fresh
// Engine on startup. core.WorkerConfig.Instructions is a Go closure rather
// than YAML-serializable data, so built-in workers are defined in code
// (grounded on internal/tools/system's tool-shape pattern: name,
// description, schema, handler) instead of through forge.yaml.
func builtinWorkers() []core.WorkerConfig {
	return []core.WorkerConfig{
		{
			ID:   "generalist",
			Name: "Generalist",
			Instructions: func(ctx core.ContextVariables) string {
				return "You are a helpful assistant. Answer directly and concisely. " +
					"Hand off to the \"coder\" worker for anything that requires reading " +
					"or writing source code."
			},
			Tools: map[string]core.ToolDefinition{
				currentTimeTool.ID: currentTimeTool,
			},
			Capabilities: map[core.Capability]struct{}{
				"general": {},
			},
			Handoffs: []core.HandoffRule{
				{TargetID: "coder", Condition: "requires code changes", TransferContext: true},
			},
			Priority: core.PriorityNormal,
		},
		{
			ID:   "coder",
			Name: "Coder",
			Instructions: func(ctx core.ContextVariables) string {
				return "You are a meticulous software engineer. Explain the change you intend " +
					"to make before making it, and prefer the smallest diff that satisfies the " +
					"request."
			},
			Tools: map[string]core.ToolDefinition{
				currentTimeTool.ID: currentTimeTool,
			},
			Capabilities: map[core.Capability]struct{}{
				"coding": {},
			},
			Priority: core.PriorityNormal,
		},
	}
}

// currentTimeTool is a minimal, side-effect-free tool every built-in
// worker carries so a fresh install has at least one working tool call to
// exercise the Tool Registry and Permission Arbiter end to end.
var currentTimeTool = core.ToolDefinition{
	ID:          "current_time",
	Name:        "current_time",
	Description: "Return the current UTC time in RFC3339 format.",
	InputSchema: `{"type":"object","properties":{}}`,
	RiskLevel:   core.RiskSafe,
	Timeout:     5 * time.Second,
	Handler: func(ctx core.ToolInvocationContext, args string) core.ToolResult {
		return core.ToolResult{Value: time.Now().UTC().Format(time.RFC3339)}
	},
}

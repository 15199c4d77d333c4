// Package toolregistry maps tool names to definitions, validates inputs
// against declared JSON Schemas, and is the sole execution entry point for
// tool handlers. It never implements a tool itself: handlers are injected
// by the caller (internal/tool/*, or any external package).
//
// Grounded on internal/agent/tool_registry.go (Register/Execute) and
// internal/agent/executor.go (timeout, cancellation, and panic-to-error-
// result translation) from the teacher repository.
package toolregistry

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/forgerun/core/internal/core"
)

const (
	// MaxToolNameLength bounds registered tool names.
	MaxToolNameLength = 256
	// MaxInputSize bounds the JSON-encoded size of a tool call's arguments.
	MaxInputSize = 10 << 20
)

// Registry is a keyed set of tool definitions and the only way to invoke
// them.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]core.ToolDefinition
	schema map[string]*jsonschema.Schema
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		tools:  make(map[string]core.ToolDefinition),
		schema: make(map[string]*jsonschema.Schema),
	}
}

// Register adds def to the registry. Fails with TagDuplicateTool on a name
// collision.
func (r *Registry) Register(def core.ToolDefinition) error {
	if len(def.Name) == 0 || len(def.Name) > MaxToolNameLength {
		return core.New(core.CategoryValidation, core.TagSchemaViolation, "tool name length out of bounds")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return core.New(core.CategoryValidation, core.TagDuplicateTool, fmt.Sprintf("tool %q already registered", def.Name))
	}

	if def.InputSchema != "" {
		compiled, err := compileSchema(def.Name, def.InputSchema)
		if err != nil {
			return core.Wrap(core.CategoryValidation, core.TagSchemaViolation, "invalid input schema for "+def.Name, err)
		}
		r.schema[def.Name] = compiled
	}

	r.tools[def.Name] = def
	return nil
}

// Unregister removes a tool definition. No-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schema, name)
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name string) (core.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// All returns every registered tool definition.
func (r *Registry) All() []core.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ToolDefinition, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}

// Validate checks input against the tool's declared schema, returning a
// TagSchemaViolation error listing the offending fields on failure.
func (r *Registry) Validate(name, input string) error {
	r.mu.RLock()
	schema, hasSchema := r.schema[name]
	r.mu.RUnlock()

	if !hasSchema {
		return nil
	}
	if len(input) > MaxInputSize {
		return core.New(core.CategoryValidation, core.TagSchemaViolation, "input exceeds maximum size")
	}

	var v any
	if err := jsonUnmarshal(input, &v); err != nil {
		return core.Wrap(core.CategoryValidation, core.TagSchemaViolation, "input is not valid JSON", err)
	}
	if err := schema.Validate(v); err != nil {
		return core.Wrap(core.CategoryValidation, core.TagSchemaViolation, "input failed schema validation for "+name, err)
	}
	return nil
}

// Invoke is the only execution entry point (spec §4.1). It validates
// inputs, applies the tool's declared timeout, forwards ctx including an
// abort handle, and returns the handler's ToolResult unchanged on success.
// A handler panic is translated into a ToolResult with IsError=true; it
// never swallows ctx cancellation, which propagates out as a
// TagStepTimeout/ctx.Err().
func (r *Registry) Invoke(ctx context.Context, name string, input string, invCtx core.ToolInvocationContext) (core.ToolResult, error) {
	def, ok := r.Lookup(name)
	if !ok {
		return core.ToolResult{}, core.New(core.CategoryValidation, core.TagSchemaViolation, "unknown tool "+name)
	}
	if err := r.Validate(name, input); err != nil {
		return core.ToolResult{}, err
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	abort := make(chan struct{})
	go func() {
		<-execCtx.Done()
		close(abort)
	}()
	invCtx.Abort = abort

	type outcome struct {
		result core.ToolResult
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				resultCh <- outcome{result: core.ToolResult{
					IsError: true,
					Error: core.Wrap(core.CategoryExecution, core.TagToolError,
						fmt.Sprintf("tool %s panicked: %v", name, p),
						fmt.Errorf("%s", debug.Stack())),
				}}
			}
		}()
		resultCh <- outcome{result: def.Handler(invCtx, input)}
	}()

	select {
	case o := <-resultCh:
		return o.result, nil
	case <-execCtx.Done():
		if ctx.Err() != nil {
			// parent cancellation, not a timeout of this invocation
			return core.ToolResult{}, ctx.Err()
		}
		return core.ToolResult{}, core.New(core.CategoryExecution, core.TagStepTimeout, "tool "+name+" exceeded its timeout")
	}
}

package toolregistry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgerun/core/internal/core"
)

func echoHandler(_ core.ToolInvocationContext, args string) core.ToolResult {
	return core.ToolResult{Value: args}
}

func TestRegisterDuplicateTool(t *testing.T) {
	r := New()
	def := core.ToolDefinition{Name: "echo", Handler: echoHandler}

	if err := r.Register(def); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(def)
	if !core.IsTag(err, core.TagDuplicateTool) {
		t.Fatalf("expected TagDuplicateTool, got %v", err)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	r := New()
	_, err := r.Invoke(context.Background(), "missing", "{}", core.ToolInvocationContext{})
	if !core.IsTag(err, core.TagSchemaViolation) {
		t.Fatalf("expected TagSchemaViolation, got %v", err)
	}
}

func TestInvokeSuccess(t *testing.T) {
	r := New()
	if err := r.Register(core.ToolDefinition{Name: "echo", Handler: echoHandler}); err != nil {
		t.Fatal(err)
	}
	res, err := r.Invoke(context.Background(), "echo", `"hi"`, core.ToolInvocationContext{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Value != `"hi"` {
		t.Fatalf("unexpected value: %q", res.Value)
	}
}

func TestInvokeSchemaViolation(t *testing.T) {
	r := New()
	schema := `{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`
	if err := r.Register(core.ToolDefinition{Name: "read", InputSchema: schema, Handler: echoHandler}); err != nil {
		t.Fatal(err)
	}
	_, err := r.Invoke(context.Background(), "read", `{}`, core.ToolInvocationContext{})
	if !core.IsTag(err, core.TagSchemaViolation) {
		t.Fatalf("expected TagSchemaViolation, got %v", err)
	}
}

func TestInvokeTimeout(t *testing.T) {
	r := New()
	slow := func(invCtx core.ToolInvocationContext, _ string) core.ToolResult {
		select {
		case <-invCtx.Abort:
		case <-time.After(time.Second):
		}
		return core.ToolResult{Value: "too late"}
	}
	if err := r.Register(core.ToolDefinition{Name: "slow", Timeout: 20 * time.Millisecond, Handler: slow}); err != nil {
		t.Fatal(err)
	}
	_, err := r.Invoke(context.Background(), "slow", "{}", core.ToolInvocationContext{})
	if !core.IsTag(err, core.TagStepTimeout) {
		t.Fatalf("expected TagStepTimeout, got %v", err)
	}
}

func TestInvokePanicBecomesErrorResult(t *testing.T) {
	r := New()
	boom := func(core.ToolInvocationContext, string) core.ToolResult {
		panic("kaboom")
	}
	if err := r.Register(core.ToolDefinition{Name: "boom", Handler: boom}); err != nil {
		t.Fatal(err)
	}
	res, err := r.Invoke(context.Background(), "boom", "{}", core.ToolInvocationContext{})
	if err != nil {
		t.Fatalf("panic should surface as ToolResult, got error: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected IsError result")
	}
	if !core.IsTag(res.Error, core.TagToolError) {
		t.Fatalf("expected TagToolError, got %v", res.Error)
	}
}

func TestInvokeParentCancellation(t *testing.T) {
	r := New()
	blocking := func(invCtx core.ToolInvocationContext, _ string) core.ToolResult {
		<-invCtx.Abort
		return core.ToolResult{Value: "unreachable"}
	}
	if err := r.Register(core.ToolDefinition{Name: "blocking", Timeout: time.Second, Handler: blocking}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.Invoke(ctx, "blocking", "{}", core.ToolInvocationContext{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

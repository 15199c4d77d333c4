package planengine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgerun/core/internal/core"
	"github.com/forgerun/core/internal/permission"
	"github.com/forgerun/core/internal/toolregistry"
)

func newTestEngine(t *testing.T) (*Engine, *toolregistry.Registry) {
	t.Helper()
	reg := toolregistry.New()
	arb := permission.New(nil)
	return New(reg, arb, core.NoopEventSink), reg
}

func registerEchoTool(t *testing.T, reg *toolregistry.Registry, name string, onCall func(call int) core.ToolResult) {
	t.Helper()
	calls := int32(0)
	err := reg.Register(core.ToolDefinition{
		Name:      name,
		RiskLevel: core.RiskSafe,
		Timeout:   time.Second,
		Handler: func(_ core.ToolInvocationContext, _ string) core.ToolResult {
			n := int(atomic.AddInt32(&calls, 1))
			return onCall(n)
		},
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func step(id, tool string, deps ...string) *core.ExecutionStep {
	return &core.ExecutionStep{ID: id, ToolID: tool, Dependencies: deps, MaxRetries: 0}
}

// TestLinearDependencyChain is scenario S1: a -> b -> c must execute in that
// order under Sequential mode.
func TestLinearDependencyChain(t *testing.T) {
	e, reg := newTestEngine(t)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(int) core.ToolResult {
		return func(int) core.ToolResult {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return core.ToolResult{Value: "ok"}
		}
	}
	registerEchoTool(t, reg, "a", record("a"))
	registerEchoTool(t, reg, "b", record("b"))
	registerEchoTool(t, reg, "c", record("c"))

	steps := []*core.ExecutionStep{
		step("s1", "a"),
		step("s2", "b", "s1"),
		step("s3", "c", "s2"),
	}
	plan, err := e.CreatePlan("sess1", steps, core.ModeSequential, core.PlanConfig{AutoApprove: true})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	result, err := e.Execute(context.Background(), plan.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != core.PlanCompleted {
		t.Fatalf("expected PlanCompleted, got %v", result.Status)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expected a,b,c order, got %v", order)
	}
}

// TestParallelFanOut is scenario S2: b and c both depend on a and must run
// concurrently under Parallel mode once a completes.
func TestParallelFanOut(t *testing.T) {
	e, reg := newTestEngine(t)

	var aCompletedAt time.Time
	var mu sync.Mutex
	registerEchoTool(t, reg, "a", func(int) core.ToolResult {
		mu.Lock()
		aCompletedAt = time.Now()
		mu.Unlock()
		return core.ToolResult{Value: "ok"}
	})
	var concurrent int32
	var maxConcurrent int32
	fanOut := func(int) core.ToolResult {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return core.ToolResult{Value: "ok"}
	}
	registerEchoTool(t, reg, "b", fanOut)
	registerEchoTool(t, reg, "c", fanOut)

	steps := []*core.ExecutionStep{
		step("s1", "a"),
		step("s2", "b", "s1"),
		step("s3", "c", "s1"),
	}
	plan, err := e.CreatePlan("sess1", steps, core.ModeParallel, core.PlanConfig{AutoApprove: true, MaxParallel: 2})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	result, err := e.Execute(context.Background(), plan.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != core.PlanCompleted {
		t.Fatalf("expected PlanCompleted, got %v", result.Status)
	}
	if aCompletedAt.IsZero() {
		t.Fatalf("a never ran")
	}
	for _, id := range []string{"s2", "s3"} {
		if result.Steps[id].Status != core.StepCompleted {
			t.Fatalf("expected %s completed, got %v", id, result.Steps[id].Status)
		}
	}
	if atomic.LoadInt32(&maxConcurrent) < 2 {
		t.Fatalf("expected b and c to run concurrently, max observed concurrency %d", maxConcurrent)
	}
}

// TestCycleRejected is scenario S3: Build rejects a circular dependency.
func TestCycleRejected(t *testing.T) {
	steps := []*core.ExecutionStep{
		step("s1", "a", "s2"),
		step("s2", "b", "s1"),
	}
	_, err := Build(steps)
	if err == nil {
		t.Fatalf("expected cycle rejection")
	}
	if !core.IsTag(err, core.TagInvalidPlan) {
		t.Fatalf("expected TagInvalidPlan, got %v", err)
	}
}

// TestRetryThenSucceed is scenario S4: a step that fails twice with a
// recoverable error then succeeds on its third attempt, within MaxRetries.
func TestRetryThenSucceed(t *testing.T) {
	e, reg := newTestEngine(t)
	registerEchoTool(t, reg, "flaky", func(n int) core.ToolResult {
		if n < 3 {
			return core.ToolResult{IsError: true, Error: core.New(core.CategoryExecution, core.TagToolError, "transient")}
		}
		return core.ToolResult{Value: "ok"}
	})

	steps := []*core.ExecutionStep{
		{ID: "s1", ToolID: "flaky", MaxRetries: 3},
	}
	plan, err := e.CreatePlan("sess1", steps, core.ModeSequential, core.PlanConfig{
		AutoApprove:    true,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	result, err := e.Execute(context.Background(), plan.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Status != core.PlanCompleted {
		t.Fatalf("expected PlanCompleted after retries, got %v", result.Status)
	}
	if result.Steps["s1"].RetryCount != 2 {
		t.Fatalf("expected 2 retries, got %d", result.Steps["s1"].RetryCount)
	}
	if result.Metrics.RetryCount != 2 {
		t.Fatalf("expected plan metrics to record 2 retries, got %d", result.Metrics.RetryCount)
	}
}

// TestRollbackLIFO is scenario S5: a completed step with a rollback action
// followed by a non-recoverable failure triggers rollback of the completed
// step's side effects.
func TestRollbackLIFO(t *testing.T) {
	e, reg := newTestEngine(t)

	var rollbackOrder []string
	var mu sync.Mutex

	registerEchoTool(t, reg, "writer", func(int) core.ToolResult {
		return core.ToolResult{
			Value: "wrote",
			SideEffects: []core.SideEffect{{Description: "wrote a file"}},
			RollbackActions: []core.RollbackAction{{
				Description: "delete file",
				Run: func() error {
					mu.Lock()
					rollbackOrder = append(rollbackOrder, "writer")
					mu.Unlock()
					return nil
				},
			}},
		}
	})
	registerEchoTool(t, reg, "failer", func(int) core.ToolResult {
		return core.ToolResult{
			IsError: true,
			Error:   core.New(core.CategoryValidation, core.TagInvalidPlan, "unrecoverable"),
		}
	})

	steps := []*core.ExecutionStep{
		step("s1", "writer"),
		step("s2", "failer", "s1"),
	}
	plan, err := e.CreatePlan("sess1", steps, core.ModeSequential, core.PlanConfig{
		AutoApprove:       true,
		RollbackOnFailure: true,
	})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}

	result, err := e.Execute(context.Background(), plan.ID)
	if err == nil {
		t.Fatalf("expected plan failure")
	}
	if result.Status != core.PlanRolledBack {
		t.Fatalf("expected PlanRolledBack, got %v", result.Status)
	}
	if len(rollbackOrder) != 1 || rollbackOrder[0] != "writer" {
		t.Fatalf("expected writer's rollback to run, got %v", rollbackOrder)
	}
	if result.Metrics.RollbackCount != 1 {
		t.Fatalf("expected rollback count 1, got %d", result.Metrics.RollbackCount)
	}
}

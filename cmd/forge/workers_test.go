package main

import (
	"testing"
	"time"

	"github.com/forgerun/core/internal/core"
)

func TestBuiltinWorkersHaveUniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for _, worker := range builtinWorkers() {
		if worker.ID == "" {
			t.Fatal("worker with empty ID")
		}
		if seen[worker.ID] {
			t.Fatalf("duplicate worker ID %q", worker.ID)
		}
		seen[worker.ID] = true
		if worker.Instructions == nil {
			t.Fatalf("worker %q has no instructions", worker.ID)
		}
		if worker.ResolveInstructions(nil) == "" {
			t.Fatalf("worker %q resolves to empty instructions", worker.ID)
		}
	}
}

func TestCurrentTimeToolHandler(t *testing.T) {
	result := currentTimeTool.Handler(core.ToolInvocationContext{}, "")
	if result.IsError {
		t.Fatalf("unexpected tool error: %v", result.Error)
	}
	if _, err := time.Parse(time.RFC3339, result.Value); err != nil {
		t.Fatalf("expected RFC3339 timestamp, got %q: %v", result.Value, err)
	}
}

// Package planengine implements the Dependency Graph and Execution Plan
// Engine from spec §4.3/§4.4: it builds a DAG over tool-invocation steps,
// validates it, and executes it under one of four scheduling disciplines.
//
// The graph is grounded on internal/multiagent/swarm.go's
// BuildDependencyGraph (Kahn's-algorithm indegree/dependents maps, cycle
// detection via a processed-count check), generalized here from a
// stage-list into a full forward+reverse adjacency structure exposing
// ready()/dependentsOf()/hasCycle() as spec §4.3 requires.
package planengine

import (
	"fmt"
	"sort"

	"github.com/forgerun/core/internal/core"
)

// Graph is the forward+reverse edge structure over one plan's steps.
type Graph struct {
	steps        map[string]*core.ExecutionStep
	order        []string
	dependents   map[string][]string // step -> steps that depend on it
}

// Build validates and indexes steps into a Graph. It fails with
// TagInvalidPlan if a dependency references a missing step, a duplicate ID
// appears, or the resulting graph contains a cycle.
func Build(steps []*core.ExecutionStep) (*Graph, error) {
	g := &Graph{
		steps:      make(map[string]*core.ExecutionStep, len(steps)),
		dependents: make(map[string][]string, len(steps)),
	}

	for _, s := range steps {
		if s.ID == "" {
			return nil, core.New(core.CategoryValidation, core.TagInvalidPlan, "step id cannot be empty")
		}
		if _, exists := g.steps[s.ID]; exists {
			return nil, core.New(core.CategoryValidation, core.TagInvalidPlan, fmt.Sprintf("duplicate step id %q", s.ID))
		}
		g.steps[s.ID] = s
		g.order = append(g.order, s.ID)
	}

	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, ok := g.steps[dep]; !ok {
				return nil, core.New(core.CategoryValidation, core.TagInvalidPlan,
					fmt.Sprintf("step %q depends on missing step %q", s.ID, dep))
			}
			g.dependents[dep] = append(g.dependents[dep], s.ID)
		}
	}

	if cyc := g.findCycle(); cyc != "" {
		return nil, core.New(core.CategoryValidation, core.TagInvalidPlan,
			fmt.Sprintf("circular dependency detected involving step %q", cyc))
	}

	for _, s := range steps {
		s.Dependents = append([]string(nil), g.dependents[s.ID]...)
	}

	return g, nil
}

// findCycle runs DFS with a recursion stack (spec §4.3: "hasCycle() via
// DFS with recursion stack") and returns one step ID on a detected cycle,
// or "" if the graph is acyclic.
func (g *Graph) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.order))

	var stack []string
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range g.steps[id].Dependencies {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if found := visit(dep); found != "" {
					return found
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return ""
	}

	for _, id := range g.order {
		if color[id] == white {
			if found := visit(id); found != "" {
				return found
			}
		}
	}
	return ""
}

// HasCycle reports whether the graph (as currently built) contains a
// cycle. Build already rejects cyclic graphs; this is exposed for direct
// testing of spec §4.3's contract.
func (g *Graph) HasCycle() bool {
	return g.findCycle() != ""
}

// Ready returns the set of step IDs whose status is Pending and whose
// declared dependencies are all Completed, in insertion order.
func (g *Graph) Ready() []string {
	var ready []string
	for _, id := range g.order {
		s := g.steps[id]
		if s.Status != core.StepPending {
			continue
		}
		if g.dependenciesCompleted(s) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (g *Graph) dependenciesCompleted(s *core.ExecutionStep) bool {
	for _, dep := range s.Dependencies {
		if g.steps[dep].Status != core.StepCompleted {
			return false
		}
	}
	return true
}

// DependentsOf returns the steps that declare id as a dependency.
func (g *Graph) DependentsOf(id string) []string {
	out := append([]string(nil), g.dependents[id]...)
	sort.Strings(out)
	return out
}

// Step returns the step for id.
func (g *Graph) Step(id string) *core.ExecutionStep {
	return g.steps[id]
}

// Order returns step IDs in insertion order.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Terminal reports whether every step has reached a terminal status
// (Completed, Failed, or Skipped) — used by the Adaptive scheduler's
// termination check (spec §4.4).
func (g *Graph) Terminal() bool {
	for _, id := range g.order {
		switch g.steps[id].Status {
		case core.StepCompleted, core.StepFailed, core.StepSkipped:
		default:
			return false
		}
	}
	return true
}

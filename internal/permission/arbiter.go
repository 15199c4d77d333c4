// Package permission implements the Permission Arbiter: given a tool
// invocation in the context of a plan and session, decide whether it may
// proceed, must be denied, or must be prompted to the user.
//
// Grounded on internal/tools/policy/approval.go's ApprovalManager
// (per-session rate-limited approval cache, ordered always/never lists)
// from the teacher repository, remapped onto spec §4.2's exact five
// ordered rules and Granted/Denied/Prompt vocabulary.
package permission

import (
	"sync"
	"time"

	"github.com/forgerun/core/internal/core"
)

// Decision is the three-way outcome of Check.
type Decision string

const (
	Granted Decision = "granted"
	Denied  Decision = "denied"
	Prompt  Decision = "prompt"
)

// AuditEntry is one append-only record of a permission decision.
type AuditEntry struct {
	Timestamp time.Time
	ToolID    string
	Level     core.RiskLevel
	Outcome   Decision
	Reason    string
}

// PlanPolicy is the subset of ExecutionPlan.Config the arbiter consults.
type PlanPolicy struct {
	AutoApprove     bool
	RequireApproval map[string]struct{}
}

// UserConsent is the external collaborator that resolves a Prompt decision
// (spec §6).
type UserConsent interface {
	RequestPermission(toolID string) (granted bool, level core.RiskLevel, persistent bool)
}

// Arbiter implements the ordered decision rules of spec §4.2.
type Arbiter struct {
	mu     sync.Mutex
	cache  map[string]Decision // key: sessionID + "\x00" + toolID
	audit  []AuditEntry
	consent UserConsent
}

// New creates an Arbiter. consent may be nil if Prompt decisions are never
// expected to be resolved synchronously (callers resolve out of band and
// call ResolvePrompt).
func New(consent UserConsent) *Arbiter {
	return &Arbiter{
		cache:   make(map[string]Decision),
		consent: consent,
	}
}

func cacheKey(sessionID, toolID string) string {
	return sessionID + "\x00" + toolID
}

// Check evaluates the five ordered rules from spec §4.2 for one tool
// invocation. It does not itself resolve a Prompt against the user; callers
// do that via the UserConsent collaborator and then Cache the outcome.
func (a *Arbiter) Check(sessionID, toolID string, tool core.ToolDefinition, policy PlanPolicy) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	decision, reason := a.decide(sessionID, toolID, tool, policy)
	a.audit = append(a.audit, AuditEntry{
		Timestamp: time.Now(),
		ToolID:    toolID,
		Level:     tool.RiskLevel,
		Outcome:   decision,
		Reason:    reason,
	})
	return decision
}

func (a *Arbiter) decide(sessionID, toolID string, tool core.ToolDefinition, policy PlanPolicy) (Decision, string) {
	// Rule 1: autoApprove + Safe/Low risk.
	if policy.AutoApprove && (tool.RiskLevel == core.RiskSafe || tool.RiskLevel == core.RiskLow) {
		return Granted, "auto-approve: safe/low risk"
	}

	// Rule 2: cached per-session decision.
	if cached, ok := a.cache[cacheKey(sessionID, toolID)]; ok {
		return cached, "cached decision"
	}

	// Rule 3: plan-level requireApproval set.
	if policy.RequireApproval != nil {
		if _, listed := policy.RequireApproval[toolID]; listed {
			return Prompt, "tool listed in plan requireApproval set"
		}
	}

	// Rule 4: sensitive permission without auto-approve.
	if !policy.AutoApprove {
		for _, p := range []core.Permission{core.PermissionAdmin, core.PermissionExecute, core.PermissionNetwork} {
			if tool.RequiresPermission(p) {
				return Prompt, "requires " + string(p) + " permission"
			}
		}
	}

	// Rule 5: default.
	return Granted, "default grant"
}

// Cache records a resolved decision for (sessionID, toolID) so future
// Check calls short-circuit on rule 2.
func (a *Arbiter) Cache(sessionID, toolID string, decision Decision) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[cacheKey(sessionID, toolID)] = decision
}

// ResolveViaConsent prompts the configured UserConsent collaborator and,
// if it asks for persistence, caches the outcome.
func (a *Arbiter) ResolveViaConsent(sessionID, toolID string) Decision {
	if a.consent == nil {
		return Denied
	}
	granted, _, persistent := a.consent.RequestPermission(toolID)
	decision := Denied
	if granted {
		decision = Granted
	}
	if persistent {
		a.Cache(sessionID, toolID, decision)
	}
	return decision
}

// Audit returns a copy of the append-only audit log.
func (a *Arbiter) Audit() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEntry(nil), a.audit...)
}

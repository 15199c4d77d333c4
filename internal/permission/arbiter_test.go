package permission

import (
	"testing"

	"github.com/forgerun/core/internal/core"
)

func TestCheckRuleOrder(t *testing.T) {
	a := New(nil)

	safe := core.ToolDefinition{RiskLevel: core.RiskSafe}
	if got := a.Check("s1", "t1", safe, PlanPolicy{AutoApprove: true}); got != Granted {
		t.Fatalf("rule 1: want Granted, got %v", got)
	}

	// Rule 2: cache short-circuits even a high-risk tool.
	high := core.ToolDefinition{RiskLevel: core.RiskHigh, Permissions: map[core.Permission]struct{}{core.PermissionAdmin: {}}}
	a.Cache("s2", "t2", Granted)
	if got := a.Check("s2", "t2", high, PlanPolicy{}); got != Granted {
		t.Fatalf("rule 2: want Granted from cache, got %v", got)
	}

	// Rule 3: requireApproval set forces Prompt even for a safe tool.
	reqApproval := PlanPolicy{RequireApproval: map[string]struct{}{"t3": {}}}
	if got := a.Check("s3", "t3", safe, reqApproval); got != Prompt {
		t.Fatalf("rule 3: want Prompt, got %v", got)
	}

	// Rule 4: sensitive permission without auto-approve.
	if got := a.Check("s4", "t4", high, PlanPolicy{}); got != Prompt {
		t.Fatalf("rule 4: want Prompt, got %v", got)
	}

	// Rule 5: default grant.
	plain := core.ToolDefinition{RiskLevel: core.RiskMedium}
	if got := a.Check("s5", "t5", plain, PlanPolicy{}); got != Granted {
		t.Fatalf("rule 5: want Granted, got %v", got)
	}
}

func TestAuditLogAppendsEveryDecision(t *testing.T) {
	a := New(nil)
	safe := core.ToolDefinition{RiskLevel: core.RiskSafe}
	a.Check("s1", "t1", safe, PlanPolicy{AutoApprove: true})
	a.Check("s1", "t2", safe, PlanPolicy{AutoApprove: true})

	entries := a.Audit()
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].ToolID != "t1" || entries[1].ToolID != "t2" {
		t.Fatalf("unexpected audit order: %+v", entries)
	}
}

type fakeConsent struct {
	granted    bool
	persistent bool
}

func (f fakeConsent) RequestPermission(string) (bool, core.RiskLevel, bool) {
	return f.granted, core.RiskMedium, f.persistent
}

func TestResolveViaConsentCachesWhenPersistent(t *testing.T) {
	a := New(fakeConsent{granted: true, persistent: true})
	decision := a.ResolveViaConsent("s1", "t1")
	if decision != Granted {
		t.Fatalf("expected Granted, got %v", decision)
	}
	high := core.ToolDefinition{RiskLevel: core.RiskHigh, Permissions: map[core.Permission]struct{}{core.PermissionAdmin: {}}}
	if got := a.Check("s1", "t1", high, PlanPolicy{}); got != Granted {
		t.Fatalf("expected cached Granted to short-circuit, got %v", got)
	}
}

package policy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/operon/pkg/models"
)

type fakeRegistry map[string]ToolInfo

func (f fakeRegistry) Lookup(name string) (ToolInfo, bool) {
	info, ok := f[name]
	return info, ok
}

func TestExistenceDeniesUnknownTool(t *testing.T) {
	p := NewPipeline(DefaultConfig(), fakeRegistry{})
	decision := p.Evaluate(context.Background(), Request{ToolName: "ghost", CallerPermission: models.PermissionAdmin})
	if decision.Allowed {
		t.Fatal("expected deny for unregistered tool")
	}
	if decision.Layer != "existence" {
		t.Errorf("Layer = %q, want existence", decision.Layer)
	}
}

func TestPermissionDeniesBelowRequired(t *testing.T) {
	reg := fakeRegistry{"shell": {PermissionLevel: models.PermissionExecute}}
	p := NewPipeline(DefaultConfig(), reg)
	decision := p.Evaluate(context.Background(), Request{ToolName: "shell", CallerPermission: models.PermissionRead})
	if decision.Allowed || decision.Layer != "permission" {
		t.Fatalf("expected permission deny, got %+v", decision)
	}
}

func TestPermissionDefaultsToRead(t *testing.T) {
	reg := fakeRegistry{"noop": {}}
	p := NewPipeline(DefaultConfig(), reg)
	decision := p.Evaluate(context.Background(), Request{ToolName: "noop", CallerPermission: models.PermissionRead})
	if !decision.Allowed {
		t.Fatalf("expected allow for unknown-permission tool with Read caller, got %+v", decision)
	}
}

func TestRateLimitDeniesAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallsPerMinute = 2
	reg := fakeRegistry{"t": {PermissionLevel: models.PermissionRead}}
	p := NewPipeline(cfg, reg)
	req := Request{ToolName: "t", CallerPermission: models.PermissionRead}

	for i := 0; i < 2; i++ {
		if d := p.Evaluate(context.Background(), req); !d.Allowed {
			t.Fatalf("call %d unexpectedly denied: %+v", i, d)
		}
	}
	d := p.Evaluate(context.Background(), req)
	if d.Allowed || d.Layer != "rate_limit" {
		t.Fatalf("expected rate_limit deny on 3rd call, got %+v", d)
	}
}

func TestInputValidationRequiresTopLevelKeys(t *testing.T) {
	reg := fakeRegistry{"shell": {
		PermissionLevel: models.PermissionRead,
		Schema:          models.ToolSchema{InputSchema: json.RawMessage(`{"type":"object","required":["cmd"]}`)},
	}}
	p := NewPipeline(DefaultConfig(), reg)

	d := p.Evaluate(context.Background(), Request{ToolName: "shell", CallerPermission: models.PermissionRead, Input: json.RawMessage(`{}`)})
	if d.Allowed || d.Layer != "input_validation" {
		t.Fatalf("expected input_validation deny for missing cmd, got %+v", d)
	}

	d = p.Evaluate(context.Background(), Request{ToolName: "shell", CallerPermission: models.PermissionRead, Input: json.RawMessage(`{"cmd":"date"}`)})
	if !d.Allowed {
		t.Fatalf("expected allow with required field present, got %+v", d)
	}
}

func TestDryRunGuardAllowsReadAndBypassList(t *testing.T) {
	reg := fakeRegistry{"shell": {PermissionLevel: models.PermissionRead}}
	cfg := DefaultConfig()
	cfg.DryRunBypassTools = []string{"shell"}
	p := NewPipeline(cfg, reg)

	d := p.Evaluate(context.Background(), Request{ToolName: "shell", CallerPermission: models.PermissionRead, DryRun: true})
	if !d.Allowed {
		t.Fatalf("expected allow for Read caller under dry-run, got %+v", d)
	}

	d = p.Evaluate(context.Background(), Request{ToolName: "shell", CallerPermission: models.PermissionAdmin, DryRun: true})
	if !d.Allowed {
		t.Fatalf("expected allow for bypass-listed tool under dry-run, got %+v", d)
	}
}

func TestDryRunGuardDeniesNonBypassedWriteCaller(t *testing.T) {
	reg := fakeRegistry{"shell": {PermissionLevel: models.PermissionRead}}
	p := NewPipeline(DefaultConfig(), reg)
	d := p.Evaluate(context.Background(), Request{ToolName: "shell", CallerPermission: models.PermissionAdmin, DryRun: true})
	if d.Allowed || d.Layer != "dry_run_guard" {
		t.Fatalf("expected dry_run_guard deny, got %+v", d)
	}
}

func TestDisabledLayerAlwaysAllows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PermissionEnabled = false
	reg := fakeRegistry{"shell": {PermissionLevel: models.PermissionAdmin}}
	p := NewPipeline(cfg, reg)
	d := p.Evaluate(context.Background(), Request{ToolName: "shell", CallerPermission: models.PermissionRead})
	if !d.Allowed {
		t.Fatalf("expected allow with permission layer disabled, got %+v", d)
	}
}

func TestSlidingWindowLimiterExpires(t *testing.T) {
	l := newSlidingWindowLimiter(1, 10*time.Millisecond)
	now := time.Now()
	if !l.Allow("t", now) {
		t.Fatal("first call should be allowed")
	}
	if l.Allow("t", now) {
		t.Fatal("second immediate call should be denied")
	}
	if !l.Allow("t", now.Add(20*time.Millisecond)) {
		t.Fatal("call after window expiry should be allowed")
	}
}

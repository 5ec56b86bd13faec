// Package policy implements the tool-policy pipeline: an ordered sequence of
// authorization layers evaluated before every tool execution, short-circuiting
// on the first denial.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/operon/pkg/models"
)

// ToolInfo is the subset of a registered tool the pipeline needs to evaluate
// permission and input-validation layers, without depending on the agent
// package's Tool interface (which would create an import cycle).
type ToolInfo struct {
	PermissionLevel models.PermissionLevel
	Schema          models.ToolSchema
}

// Registry resolves a tool name to its ToolInfo. *agent.ToolRegistry
// satisfies this via a small adapter at the call site.
type Registry interface {
	Lookup(name string) (ToolInfo, bool)
}

// Request is the evaluation context passed to every layer.
type Request struct {
	ToolName         string
	Input            json.RawMessage
	CallerPermission models.PermissionLevel
	DryRun           bool
	SessionID        string
}

// Config tunes which layers run and their thresholds. Disabled layers are
// skipped but remain in their position in the ordering.
type Config struct {
	Enabled bool

	PermissionEnabled bool
	DefaultPermission models.PermissionLevel

	RateLimitEnabled  bool
	MaxCallsPerMinute int

	InputValidationEnabled bool

	DryRunGuardEnabled bool
	DryRunBypassTools  []string

	AuditEnabled bool

	Logger *slog.Logger
}

// DefaultConfig enables every layer with the spec's defaults: Read as the
// fallback required permission, 60 calls/minute per tool.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		PermissionEnabled:       true,
		DefaultPermission:       models.PermissionRead,
		RateLimitEnabled:        true,
		MaxCallsPerMinute:       60,
		InputValidationEnabled: true,
		DryRunGuardEnabled:      true,
		AuditEnabled:            true,
	}
}

// Pipeline evaluates the seven canonical layers in order: existence,
// permission, rate-limit, input validation, dry-run guard, audit, timeout
// marker.
type Pipeline struct {
	cfg      Config
	registry Registry
	limiter  *slidingWindowLimiter
	logger   *slog.Logger
}

// NewPipeline builds a Pipeline against the given tool registry.
func NewPipeline(cfg Config, registry Registry) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	max := cfg.MaxCallsPerMinute
	if max <= 0 {
		max = 60
	}
	return &Pipeline{
		cfg:      cfg,
		registry: registry,
		limiter:  newSlidingWindowLimiter(max, time.Minute),
		logger:   logger,
	}
}

// Evaluate runs every layer in order, short-circuiting and returning the
// first Deny. A disabled pipeline always Allows.
func (p *Pipeline) Evaluate(ctx context.Context, req Request) models.PolicyDecision {
	if !p.cfg.Enabled {
		return models.Allow()
	}

	layers := []func(context.Context, Request) models.PolicyDecision{
		p.existence,
		p.permission,
		p.rateLimit,
		p.inputValidation,
		p.dryRunGuard,
		p.audit,
		p.timeoutMarker,
	}

	for _, layer := range layers {
		decision := layer(ctx, req)
		if !decision.Allowed {
			p.logger.Warn("tool policy denied",
				"tool", req.ToolName,
				"layer", decision.Layer,
				"reason", decision.Reason,
				"session_id", req.SessionID,
			)
			return decision
		}
	}
	return models.Allow()
}

func (p *Pipeline) existence(_ context.Context, req Request) models.PolicyDecision {
	if _, ok := p.registry.Lookup(req.ToolName); !ok {
		return models.Deny("existence", fmt.Sprintf("tool %q is not registered", req.ToolName))
	}
	return models.Allow()
}

func (p *Pipeline) permission(_ context.Context, req Request) models.PolicyDecision {
	if !p.cfg.PermissionEnabled {
		return models.Allow()
	}
	required := p.cfg.DefaultPermission
	if required == "" {
		required = models.PermissionRead
	}
	if info, ok := p.registry.Lookup(req.ToolName); ok {
		required = info.PermissionLevel
	}
	if !req.CallerPermission.AtLeast(required) {
		return models.Deny("permission", fmt.Sprintf("caller permission %q is below required %q", req.CallerPermission, required))
	}
	return models.Allow()
}

func (p *Pipeline) rateLimit(_ context.Context, req Request) models.PolicyDecision {
	if !p.cfg.RateLimitEnabled {
		return models.Allow()
	}
	if !p.limiter.Allow(req.ToolName, time.Now()) {
		return models.Deny("rate_limit", fmt.Sprintf("tool %q exceeded %d calls/minute", req.ToolName, p.limiter.max))
	}
	return models.Allow()
}

func (p *Pipeline) inputValidation(_ context.Context, req Request) models.PolicyDecision {
	if !p.cfg.InputValidationEnabled {
		return models.Allow()
	}
	info, ok := p.registry.Lookup(req.ToolName)
	if !ok || len(info.Schema.InputSchema) == 0 {
		return models.Allow()
	}

	var schema struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(info.Schema.InputSchema, &schema); err != nil || len(schema.Required) == 0 {
		return models.Allow()
	}

	var input map[string]json.RawMessage
	if len(req.Input) > 0 {
		if err := json.Unmarshal(req.Input, &input); err != nil {
			return models.Deny("input_validation", "input is not a JSON object")
		}
	}
	for _, key := range schema.Required {
		if _, present := input[key]; !present {
			return models.Deny("input_validation", fmt.Sprintf("missing required field %q", key))
		}
	}
	return models.Allow()
}

func (p *Pipeline) dryRunGuard(_ context.Context, req Request) models.PolicyDecision {
	if !p.cfg.DryRunGuardEnabled || !req.DryRun {
		return models.Allow()
	}
	if req.CallerPermission == models.PermissionRead {
		return models.Allow()
	}
	for _, name := range p.cfg.DryRunBypassTools {
		if name == req.ToolName {
			return models.Allow()
		}
	}
	return models.Deny("dry_run_guard", "dry-run requires read permission or bypass-list membership")
}

func (p *Pipeline) audit(_ context.Context, req Request) models.PolicyDecision {
	if p.cfg.AuditEnabled {
		p.logger.Info("tool policy audit",
			"tool", req.ToolName,
			"caller_permission", req.CallerPermission,
			"dry_run", req.DryRun,
			"session_id", req.SessionID,
		)
	}
	return models.Allow()
}

// timeoutMarker is a no-op marker layer: the actual timeout is enforced by
// the Runtime wrapping execute_tool, not by the pipeline.
func (p *Pipeline) timeoutMarker(_ context.Context, _ Request) models.PolicyDecision {
	return models.Allow()
}

// slidingWindowLimiter tracks, per tool, the timestamps of Allowed calls
// within the trailing window and denies once the count reaches max.
type slidingWindowLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	max     int
	window  time.Duration
}

func newSlidingWindowLimiter(max int, window time.Duration) *slidingWindowLimiter {
	return &slidingWindowLimiter{
		windows: make(map[string][]time.Time),
		max:     max,
		window:  window,
	}
}

func (l *slidingWindowLimiter) Allow(tool string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := l.windows[tool][:0]
	for _, t := range l.windows[tool] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.max {
		l.windows[tool] = kept
		return false
	}
	l.windows[tool] = append(kept, now)
	return true
}

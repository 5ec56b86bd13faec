// Package agent implements the core agent loop, tool runtime, and provider
// failover chain.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/operon/internal/tools/policy"
	"github.com/haasonsaas/operon/pkg/models"
)

// runtimeState is the Runtime's coarse lifecycle: Idle permits registration,
// Running forbids it so concurrent tool execution never races a mutating
// tool map.
type runtimeState int32

const (
	stateIdle runtimeState = iota
	stateRunning
)

// ExecutionMode selects how RunPlan and ExecuteTool treat tool invocations:
// Normal executes live, Record executes live and persists a fixture,
// Replay serves step outputs from a previously recorded fixture.
type ExecutionMode int

const (
	ExecutionNormal ExecutionMode = iota
	ExecutionRecord
	ExecutionReplay
)

// ExecutionContext carries the active ExecutionMode plus the directory a
// Record or Replay mode reads/writes its fixture.json from.
type ExecutionContext struct {
	Mode ExecutionMode
	Dir  string
}

// toolRegistryAdapter satisfies policy.Registry over a *ToolRegistry without
// the policy package importing agent (which would cycle back here).
type toolRegistryAdapter struct {
	registry *ToolRegistry
}

func (a toolRegistryAdapter) Lookup(name string) (policy.ToolInfo, bool) {
	tool, ok := a.registry.Lookup(name)
	if !ok {
		return policy.ToolInfo{}, false
	}
	return policy.ToolInfo{
		PermissionLevel: tool.PermissionLevel(),
		Schema:          tool.Schema(),
	}, true
}

// Runtime is the façade agents and the plan scheduler execute tools through.
// It owns the tool registry, a cross-step output store, per-tool timeouts,
// and an optional policy pipeline, and is safe for concurrent ExecuteTool
// calls once Idle->Running has been entered.
type Runtime struct {
	registry *ToolRegistry
	pipeline *policy.Pipeline

	state atomic.Int32

	outputsMu sync.RWMutex
	outputs   map[string]json.RawMessage

	dryRun         bool
	defaultTimeout time.Duration
	toolTimeouts   map[string]time.Duration
	maxParallel    int

	execCtx ExecutionContext

	logger *slog.Logger
}

// RuntimeOption configures a Runtime at construction.
type RuntimeOption func(*Runtime)

// WithPolicyPipeline attaches a tool-policy pipeline evaluated before every
// ExecuteTool call. Without one, ExecuteTool allows every call.
func WithPolicyPipeline(cfg policy.Config) RuntimeOption {
	return func(r *Runtime) {
		r.pipeline = policy.NewPipeline(cfg, toolRegistryAdapter{r.registry})
	}
}

// WithDryRun sets the Runtime's default dry-run flag.
func WithDryRun(dryRun bool) RuntimeOption {
	return func(r *Runtime) { r.dryRun = dryRun }
}

// WithDefaultTimeout sets the per-call timeout applied when no per-tool
// override exists. Zero means no timeout.
func WithDefaultTimeout(d time.Duration) RuntimeOption {
	return func(r *Runtime) { r.defaultTimeout = d }
}

// WithToolTimeout overrides the timeout for a single named tool.
func WithToolTimeout(name string, d time.Duration) RuntimeOption {
	return func(r *Runtime) {
		if r.toolTimeouts == nil {
			r.toolTimeouts = make(map[string]time.Duration)
		}
		r.toolTimeouts[name] = d
	}
}

// WithMaxParallel bounds how many steps of an independent DAG level the
// plan scheduler runs concurrently. Values below 1 are floored to 1.
func WithMaxParallel(n int) RuntimeOption {
	return func(r *Runtime) { r.maxParallel = n }
}

// WithExecutionContext sets the Record/Replay mode and fixture directory.
func WithExecutionContext(ec ExecutionContext) RuntimeOption {
	return func(r *Runtime) { r.execCtx = ec }
}

// WithLogger overrides the Runtime's structured logger.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = logger }
}

// NewRuntime builds a Runtime around registry with the given options applied.
func NewRuntime(registry *ToolRegistry, opts ...RuntimeOption) *Runtime {
	if registry == nil {
		registry = NewToolRegistry()
	}
	r := &Runtime{
		registry:       registry,
		outputs:        make(map[string]json.RawMessage),
		defaultTimeout: 30 * time.Second,
		maxParallel:    4,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxParallel < 1 {
		r.maxParallel = 1
	}
	return r
}

// IsRunning reports whether the Runtime currently rejects RegisterTool.
func (r *Runtime) IsRunning() bool {
	return runtimeState(r.state.Load()) == stateRunning
}

// enterRunning CAS-transitions Idle->Running, returning false if the
// Runtime was already Running.
func (r *Runtime) enterRunning() bool {
	return r.state.CompareAndSwap(int32(stateIdle), int32(stateRunning))
}

func (r *Runtime) leaveRunning() {
	r.state.Store(int32(stateIdle))
}

// RegisterTool adds tool to the registry. It is refused while the Runtime
// is Running, since the tool map is read without a lock during execution.
func (r *Runtime) RegisterTool(tool Tool) error {
	if r.IsRunning() {
		return fmt.Errorf("agent: cannot register tool %q while runtime is running", tool.Name())
	}
	r.registry.Register(tool)
	return nil
}

// UnregisterTool removes a tool by name. Refused while Running, for the
// same reason as RegisterTool.
func (r *Runtime) UnregisterTool(name string) error {
	if r.IsRunning() {
		return fmt.Errorf("agent: cannot unregister tool %q while runtime is running", name)
	}
	r.registry.Unregister(name)
	return nil
}

// Schemas returns the ToolSchema of every registered tool, or of the
// whitelist named in names when non-empty.
func (r *Runtime) Schemas(names []string) []models.ToolSchema {
	return r.registry.Schemas(names)
}

// SetStepOutput records a step's output under key for later steps or
// callers to read via StepOutput.
func (r *Runtime) SetStepOutput(key string, output json.RawMessage) {
	r.outputsMu.Lock()
	defer r.outputsMu.Unlock()
	r.outputs[key] = output
}

// StepOutput returns a previously recorded step output.
func (r *Runtime) StepOutput(key string) (json.RawMessage, bool) {
	r.outputsMu.RLock()
	defer r.outputsMu.RUnlock()
	out, ok := r.outputs[key]
	return out, ok
}

func (r *Runtime) timeoutFor(name string) time.Duration {
	if d, ok := r.toolTimeouts[name]; ok {
		return d
	}
	return r.defaultTimeout
}

// ExecuteTool runs the four-step execute_tool contract: policy evaluation
// (caller permission defaults to Execute when unset), tool lookup, dry-run
// short-circuit, then timeout-bounded execution.
func (r *Runtime) ExecuteTool(ctx context.Context, sessionID, name string, input json.RawMessage, callerPermission models.PermissionLevel) (json.RawMessage, error) {
	if callerPermission == "" {
		callerPermission = models.PermissionExecute
	}

	if r.pipeline != nil {
		decision := r.pipeline.Evaluate(ctx, policy.Request{
			ToolName:         name,
			Input:            input,
			CallerPermission: callerPermission,
			DryRun:           r.dryRun,
			SessionID:        sessionID,
		})
		if !decision.Allowed {
			return nil, &PolicyDeniedError{ToolName: name, Layer: decision.Layer, Reason: decision.Reason}
		}
	}

	tool, ok := r.registry.Lookup(name)
	if !ok {
		return nil, NewToolError(name, ErrToolNotFound).WithType(ToolErrorNotFound)
	}

	if r.dryRun {
		r.logger.Info("dry-run tool execution skipped", "tool", name, "session_id", sessionID)
		return json.RawMessage(`{"dry_run":true}`), nil
	}

	timeout := r.timeoutFor(name)
	execCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := tool.Execute(execCtx, input)
	if err != nil {
		if execCtx.Err() != nil {
			return nil, NewToolError(name, execCtx.Err()).WithType(ToolErrorTimeout)
		}
		return nil, NewToolError(name, err).WithType(ToolErrorExecution)
	}
	return result, nil
}

// RunPlan executes plan via the sequential fast path when it has no
// cross-step dependencies, otherwise via the DAG scheduler. See scheduler.go.
func (r *Runtime) RunPlan(ctx context.Context, sessionID string, plan models.Plan, callerPermission models.PermissionLevel) (*PlanResult, error) {
	if !r.enterRunning() {
		return nil, fmt.Errorf("agent: runtime is already running a plan")
	}
	defer r.leaveRunning()

	return runScheduledPlan(ctx, r, sessionID, plan, callerPermission)
}

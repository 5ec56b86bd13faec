package config

import "time"

// ToolsConfig covers the three things a config file actually tunes about
// tool execution: the policy pipeline's layers, the runtime's execution
// bounds, and which hooks are active.
type ToolsConfig struct {
	Policy    ToolPolicyConfig    `yaml:"policy"`
	Execution ToolExecutionConfig `yaml:"execution"`
	Hooks     ToolHooksConfig     `yaml:"hooks"`
}

// ToolPolicyConfig maps onto policy.Config: which layers of the tool-policy
// pipeline run and their thresholds. Enabled is a pointer so a config file
// that omits it gets the pipeline's on-by-default behavior, distinct from
// an explicit "enabled: false".
type ToolPolicyConfig struct {
	Enabled            *bool    `yaml:"enabled"`
	DefaultPermission  string   `yaml:"default_permission"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	DryRunBypassTools  []string `yaml:"dry_run_bypass_tools"`
}

// IsEnabled reports whether the pipeline should run, defaulting true when
// unset.
func (c ToolPolicyConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ToolExecutionConfig bounds how the agent loop drives tool calls: overall
// per-call timeout, how many tool calls may run concurrently, and the
// maximum number of iterations a single turn may take before the loop
// gives up and returns control to the caller.
type ToolExecutionConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxParallel   int           `yaml:"max_parallel"`
	MaxIterations int           `yaml:"max_iterations"`
	DryRun        bool          `yaml:"dry_run"`
}

// ToolHooksConfig toggles the hooks registry and bounds how long a single
// hook may run before it's treated as failed.
type ToolHooksConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg == nil {
		return
	}
	if cfg.Policy.DefaultPermission == "" {
		cfg.Policy.DefaultPermission = "read"
	}
	if cfg.Policy.RateLimitPerMinute == 0 {
		cfg.Policy.RateLimitPerMinute = 60
	}
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 30 * time.Second
	}
	if cfg.Execution.MaxParallel == 0 {
		cfg.Execution.MaxParallel = 4
	}
	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 25
	}
	if cfg.Hooks.Timeout == 0 {
		cfg.Hooks.Timeout = 5 * time.Second
	}
}

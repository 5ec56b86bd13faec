package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/operon/internal/audit"
)

// Config is the root configuration structure for the runtime: the LLM
// provider chain, the tool-policy/execution surface, the ambient HTTP
// server, session defaults, and the logging/audit stack. Loaded from YAML
// or JSON5 via Load, which resolves $include directives before decoding.
type Config struct {
	Version int           `yaml:"version"`
	LLM     LLMConfig     `yaml:"llm"`
	Tools   ToolsConfig   `yaml:"tools"`
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
	Audit   audit.Config  `yaml:"audit"`
}

// Load reads path (YAML or JSON5, sniffed by extension), resolves any
// $include directives relative to path's directory, expands environment
// variables, applies PRODUCT_* env overrides, fills defaults, and validates
// the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}

	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	if cfg.Version != 0 {
		if err := ValidateVersion(cfg.Version); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	applyLLMDefaults(&cfg.LLM)
	applyToolsDefaults(&cfg.Tools)
	applyServerDefaults(&cfg.Server)
	applySessionDefaults(&cfg.Session)
	applyLoggingDefaults(&cfg.Logging)
	applyAuditDefaults(&cfg.Audit)
}

func applyAuditDefaults(cfg *audit.Config) {
	if cfg == nil {
		return
	}
	defaults := audit.DefaultConfig()
	if cfg.Level == "" {
		cfg.Level = defaults.Level
	}
	if cfg.Format == "" {
		cfg.Format = defaults.Format
	}
	if cfg.Output == "" {
		cfg.Output = defaults.Output
	}
	if cfg.MaxFieldSize == 0 {
		cfg.MaxFieldSize = defaults.MaxFieldSize
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaults.SampleRate
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
}

// applyEnvOverrides applies the OPERON_* environment variable family
// documented for the CLI: these override config file values after load,
// mirroring the teacher's NEXUS_*-prefixed override convention.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv("OPERON_TIMEOUT")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			cfg.Tools.Execution.Timeout = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("OPERON_MAX_PARALLEL")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Tools.Execution.MaxParallel = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("OPERON_DRY_RUN")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Tools.Execution.DryRun = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("OPERON_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
	if value := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); value != "" {
		setProviderAPIKey(&cfg.LLM, "anthropic", value)
	}
	if value := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); value != "" {
		setProviderAPIKey(&cfg.LLM, "openai", value)
	}
	if value := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); value != "" {
		setProviderAPIKey(&cfg.LLM, "google", value)
	}
}

func setProviderAPIKey(cfg *LLMConfig, name, apiKey string) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]LLMProviderConfig)
	}
	entry := cfg.Providers[name]
	if entry.APIKey == "" {
		entry.APIKey = apiKey
	}
	cfg.Providers[name] = entry
}

// ConfigValidationError reports one or more configuration problems found
// during Load.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	if cfg.Tools.Execution.MaxParallel < 0 {
		issues = append(issues, "tools.execution.max_parallel must be >= 0")
	}
	if cfg.Tools.Execution.Timeout < 0 {
		issues = append(issues, "tools.execution.timeout must be >= 0")
	}
	if cfg.Tools.Execution.MaxIterations < 0 {
		issues = append(issues, "tools.execution.max_iterations must be >= 0")
	}
	if cfg.Tools.Policy.RateLimitPerMinute < 0 {
		issues = append(issues, "tools.policy.rate_limit_per_minute must be >= 0")
	}
	if cfg.Session.MaxMessages < 0 {
		issues = append(issues, "session.max_messages must be >= 0")
	}
	if level := strings.ToLower(strings.TrimSpace(cfg.Logging.Level)); level != "" {
		switch level {
		case "debug", "info", "warn", "error":
		default:
			issues = append(issues, "logging.level must be \"debug\", \"info\", \"warn\", or \"error\"")
		}
	}
	if format := strings.ToLower(strings.TrimSpace(cfg.Logging.Format)); format != "" {
		switch format {
		case "json", "text":
		default:
			issues = append(issues, "logging.format must be \"json\" or \"text\"")
		}
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, "server.port must be between 0 and 65535")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

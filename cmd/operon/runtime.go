package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/haasonsaas/operon/internal/agent"
	"github.com/haasonsaas/operon/internal/agent/providers"
	"github.com/haasonsaas/operon/internal/config"
	"github.com/haasonsaas/operon/internal/observability"
	"github.com/haasonsaas/operon/internal/tools/exec"
	"github.com/haasonsaas/operon/internal/tools/policy"
	"github.com/haasonsaas/operon/pkg/models"
)

const defaultConfigPath = "operon.yaml"

// resolveConfigPath falls back to defaultConfigPath when the caller leaves
// --config unset, mirroring the teacher's resolveConfigPath but without a
// multi-profile directory layer this runtime has no use for.
func resolveConfigPath(path string) string {
	if path == "" {
		return defaultConfigPath
	}
	return path
}

// buildProviderChain constructs an agent.Provider for every entry in
// cfg.Providers and, when more than one is reachable via FallbackChain,
// wraps them in a FailoverOrchestrator ordered by that chain (falling back
// to map iteration order for any provider FallbackChain omits).
func buildProviderChain(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (agent.Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("llm.providers is empty: configure at least one provider")
	}

	order := cfg.FallbackChain
	if len(order) == 0 {
		order = defaultProviderOrder(cfg)
	}

	var chain []agent.Provider
	seen := make(map[string]bool)
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true
		entry, ok := cfg.Providers[name]
		if !ok {
			continue
		}
		provider, err := buildProvider(ctx, name, entry, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		chain = append(chain, provider)
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("no configured provider matched default_provider/fallback_chain")
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return agent.NewFailoverOrchestrator(chain, cfg.FailoverThreshold, logger), nil
}

// defaultProviderOrder is used when the config declares no fallback_chain:
// the default provider first, then the rest in sorted order for a
// deterministic, reproducible chain.
func defaultProviderOrder(cfg config.LLMConfig) []string {
	var rest []string
	for name := range cfg.Providers {
		if name != cfg.DefaultProvider {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	if cfg.DefaultProvider == "" {
		return rest
	}
	return append([]string{cfg.DefaultProvider}, rest...)
}

func buildProvider(ctx context.Context, name string, entry config.LLMProviderConfig, logger *slog.Logger) (agent.Provider, error) {
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey: entry.APIKey,
			Model:  entry.DefaultModel,
			Logger: logger,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  entry.APIKey,
			Model:   entry.DefaultModel,
			BaseURL: entry.BaseURL,
			Logger:  logger,
		})
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:  entry.APIKey,
			Model:   entry.DefaultModel,
			BaseURL: entry.BaseURL,
			Logger:  logger,
		})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      entry.BaseURL,
			DefaultModel: entry.DefaultModel,
		}), nil
	case "bedrock":
		return providers.NewBedrockProvider(ctx, providers.BedrockConfig{
			Region: entry.Region,
			Model:  entry.DefaultModel,
			Logger: logger,
		})
	default:
		return nil, fmt.Errorf("unrecognized provider type %q", name)
	}
}

// buildRuntime assembles the tool registry, the policy pipeline, and the
// Runtime from cfg.Tools, registering the exec/process tools every command
// shares.
func buildRuntime(cfg config.ToolsConfig, workspaceDir string, logger *slog.Logger, execCtx *agent.ExecutionContext) *agent.Runtime {
	registry := agent.NewToolRegistry()
	mgr := exec.NewManager(workspaceDir)
	registry.Register(exec.NewExecTool("exec", mgr))
	registry.Register(exec.NewProcessTool(mgr))

	policyCfg := policy.Config{
		Enabled:                cfg.Policy.IsEnabled(),
		PermissionEnabled:      true,
		DefaultPermission:      permissionFromString(cfg.Policy.DefaultPermission),
		RateLimitEnabled:       cfg.Policy.RateLimitPerMinute > 0,
		MaxCallsPerMinute:      cfg.Policy.RateLimitPerMinute,
		InputValidationEnabled: true,
		DryRunGuardEnabled:     true,
		DryRunBypassTools:      cfg.Policy.DryRunBypassTools,
		AuditEnabled:           true,
		Logger:                 logger,
	}

	opts := []agent.RuntimeOption{
		agent.WithPolicyPipeline(policyCfg),
		agent.WithDryRun(cfg.Execution.DryRun),
		agent.WithDefaultTimeout(cfg.Execution.Timeout),
		agent.WithMaxParallel(cfg.Execution.MaxParallel),
		agent.WithLogger(logger),
	}
	if execCtx != nil {
		opts = append(opts, agent.WithExecutionContext(*execCtx))
	}

	return agent.NewRuntime(registry, opts...)
}

func permissionFromString(s string) models.PermissionLevel {
	switch s {
	case "write":
		return models.PermissionWrite
	case "execute":
		return models.PermissionExecute
	case "network":
		return models.PermissionNetwork
	case "admin":
		return models.PermissionAdmin
	default:
		return models.PermissionRead
	}
}

// newObservabilityLogger builds the structured logger every command shares,
// from cfg.Logging.
func newObservabilityLogger(cfg config.LoggingConfig) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: os.Stderr,
	})
}

// slogFromConfig builds the *slog.Logger the providers and Runtime take
// directly, matching the level/format newObservabilityLogger uses for the
// structured, redacting logger.
func slogFromConfig(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}


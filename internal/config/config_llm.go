package config

// LLMConfig describes the provider chain the runtime builds its
// agent.Provider from: a named set of providers, which one is the primary,
// and the ordered fallback chain the failover orchestrator walks when the
// primary errors or its circuit trips.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider
	// fails, in order, until one succeeds or the chain is exhausted.
	FallbackChain []string `yaml:"fallback_chain"`

	// FailoverThreshold is the consecutive-failure count that trips a
	// provider's circuit, per internal/agent's FailoverOrchestrator.
	FailoverThreshold int `yaml:"failover_threshold"`
}

// LLMProviderConfig configures a single named provider entry. Fields a
// given provider type ignores are harmless (e.g. Region only matters for
// the bedrock provider).
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	Region       string `yaml:"region"`
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg == nil {
		return
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]LLMProviderConfig)
	}
	if cfg.FailoverThreshold <= 0 {
		cfg.FailoverThreshold = 3
	}
	if cfg.DefaultProvider == "" && len(cfg.FallbackChain) > 0 {
		cfg.DefaultProvider = cfg.FallbackChain[0]
	}
}

package config

// SessionConfig controls the default agent bound to a new session and the
// per-session message retention applied by internal/sessions's stores.
// Platform-specific scoping (DM/channel identity resolution, reset
// schedules, context pruning) belongs to the messaging-gateway product this
// runtime was distilled from, not here.
type SessionConfig struct {
	DefaultAgentID string `yaml:"default_agent_id"`
	MaxMessages    int    `yaml:"max_messages"`
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg == nil {
		return
	}
	if cfg.MaxMessages == 0 {
		cfg.MaxMessages = 200
	}
}

package config

// ServerConfig configures the thin ambient HTTP front end the serve command
// exposes over the Runtime/AgentLoop: host/port to bind, nothing more. The
// full gateway's cluster coordination, session locking, and canvas hosting
// have no equivalent here.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
}

package config

// LoggingConfig configures the structured logger built via
// observability.NewLogger: level, output format, and whether source
// location is attached to each record.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

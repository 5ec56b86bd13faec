package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidatesServerPort(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 99999
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "server.port") {
		t.Fatalf("expected server.port error, got %v", err)
	}
}

func TestLoadValidatesToolsExecutionMaxParallel(t *testing.T) {
	path := writeConfig(t, `
tools:
  execution:
    max_parallel: -1
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "max_parallel") {
		t.Fatalf("expected max_parallel error, got %v", err)
	}
}

func TestLoadValidatesSessionMaxMessages(t *testing.T) {
	path := writeConfig(t, `
session:
  max_messages: -1
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "max_messages") {
		t.Fatalf("expected max_messages error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
session:
  default_agent_id: writer
  max_messages: 100
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Tools.Execution.MaxParallel != 4 {
		t.Fatalf("expected default max_parallel of 4, got %d", cfg.Tools.Execution.MaxParallel)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port of 8080, got %d", cfg.Server.Port)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("OPERON_MAX_PARALLEL", "9")
	t.Setenv("OPERON_DRY_RUN", "true")
	t.Setenv("OPERON_LOG_LEVEL", "debug")

	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Tools.Execution.MaxParallel != 9 {
		t.Fatalf("expected max_parallel override, got %d", cfg.Tools.Execution.MaxParallel)
	}
	if !cfg.Tools.Execution.DryRun {
		t.Fatalf("expected dry_run override to be true")
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected log level override, got %q", cfg.Logging.Level)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte("llm:\n  providers:\n    anthropic:\n      api_key: base-key\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	mainPath := filepath.Join(dir, "main.yaml")
	contents := "$include: base.yaml\nllm:\n  default_provider: anthropic\n"
	if err := os.WriteFile(mainPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "base-key" {
		t.Fatalf("expected included api_key to merge, got %q", cfg.LLM.Providers["anthropic"].APIKey)
	}
}

func TestLoadRejectsFutureVersion(t *testing.T) {
	path := writeConfig(t, `
version: 999
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected version validation error")
	}
	if !strings.Contains(err.Error(), "newer than this build") {
		t.Fatalf("expected newer-than-build error, got %v", err)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "operon.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

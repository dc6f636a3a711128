package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Agent.Model != "sonnet" {
		t.Errorf("unexpected default model: %q", cfg.Agent.Model)
	}
	if len(cfg.Agent.AutoAllowTools) == 0 {
		t.Error("expected a default auto-allow tool set")
	}
	if cfg.Events.Database == "" {
		t.Error("expected a default event database path")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CLAUDECHIC_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.Model != "sonnet" {
		t.Errorf("defaults not applied: %q", cfg.Agent.Model)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
agent:
  model: opus
logging:
  level: debug
  sentry_dsn: ${TEST_SENTRY_DSN}
events:
  memory_only: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLAUDECHIC_CONFIG", path)
	t.Setenv("TEST_SENTRY_DSN", "https://key@sentry.example/1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.Model != "opus" {
		t.Errorf("file value not applied: %q", cfg.Agent.Model)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("file value not applied: %q", cfg.Logging.Level)
	}
	if cfg.Logging.SentryDSN != "https://key@sentry.example/1" {
		t.Errorf("env expansion failed: %q", cfg.Logging.SentryDSN)
	}
	if !cfg.Events.MemoryOnly {
		t.Error("file value not applied: memory_only")
	}
	// Untouched keys keep their defaults.
	if len(cfg.Agent.AutoAllowTools) == 0 {
		t.Error("defaults lost for untouched keys")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("agent: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLAUDECHIC_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Error("expected a parse error")
	}
}

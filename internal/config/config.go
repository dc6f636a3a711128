// Package config handles claudechic configuration loading and defaults.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	Logging LoggingConfig `yaml:"logging"`
	Events  EventsConfig  `yaml:"events"`
	UI      UIConfig      `yaml:"ui"`
}

// AgentConfig defines default backend behavior for new sessions.
type AgentConfig struct {
	Model          string `yaml:"model"`
	PermissionMode string `yaml:"permission_mode"`

	// AutoAllowTools grants a standing allow for these tool names when
	// the user answers "allow all" (mirrors the original auto-edit set).
	AutoAllowTools []string `yaml:"auto_allow_tools"`
}

// LoggingConfig defines log output settings.
type LoggingConfig struct {
	File      string `yaml:"file"`
	Level     string `yaml:"level"`
	SentryDSN string `yaml:"sentry_dsn"`
}

// EventsConfig defines the debugging event log.
type EventsConfig struct {
	Database string `yaml:"database"`
	// MemoryOnly skips SQLite and keeps a bounded in-memory log.
	MemoryOnly bool `yaml:"memory_only"`
}

// UIConfig defines TUI appearance.
type UIConfig struct {
	Theme string `yaml:"theme"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Model:          "sonnet",
			PermissionMode: "default",
			AutoAllowTools: []string{"Edit", "Write", "MultiEdit", "NotebookEdit"},
		},
		Logging: LoggingConfig{
			File:  filepath.Join(homeDir, ".local/share/claudechic/claudechic.log"),
			Level: "info",
		},
		Events: EventsConfig{
			Database: filepath.Join(homeDir, ".local/share/claudechic/events.db"),
		},
		UI: UIConfig{
			Theme: "auto",
		},
	}
}

// Load reads configuration from the default path, falling back to
// defaults when no file exists.
func Load() (*Config, error) {
	path := DefaultPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Logging.SentryDSN = os.ExpandEnv(cfg.Logging.SentryDSN)
	return cfg, nil
}

// DefaultPath returns the config file path, honoring CLAUDECHIC_CONFIG.
func DefaultPath() string {
	if p := os.Getenv("CLAUDECHIC_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config/claudechic/config.yaml")
}

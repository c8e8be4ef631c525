// Package config loads and persists the tend configuration file. Settings
// changes are written back immediately so they survive restarts; the issue
// ledger itself always lives in the store, never in config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/tendapp/tend/internal/reason"
	"github.com/tendapp/tend/internal/schema"
)

// Config is the full on-disk configuration.
type Config struct {
	// DataDir holds the database (default: ~/.tend)
	DataDir string `mapstructure:"data_dir"`

	// DashboardPort for the local HTTP/WebSocket server (default: 8080)
	DashboardPort int `mapstructure:"dashboard_port"`

	// Reasoning configures the local generation service.
	Reasoning ReasoningConfig `mapstructure:"reasoning"`

	// Sync holds the engine settings.
	Sync schema.SyncSettings `mapstructure:"sync"`
}

// ReasoningConfig mirrors reason.Config for the config file.
type ReasoningConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	rc := reason.DefaultConfig()
	return &Config{
		DataDir:       filepath.Join(home, ".tend"),
		DashboardPort: 8080,
		Reasoning: ReasoningConfig{
			BaseURL: rc.BaseURL,
			Model:   rc.Model,
			Timeout: rc.Timeout,
		},
		Sync: schema.DefaultSettings(),
	}
}

// ReasonConfig converts the reasoning section for the client constructor.
func (c *Config) ReasonConfig() *reason.Config {
	return &reason.Config{
		BaseURL: c.Reasoning.BaseURL,
		Model:   c.Reasoning.Model,
		Timeout: c.Reasoning.Timeout,
	}
}

// Load reads the config file at path. A missing file yields defaults; absent
// keys in an existing file fall back to their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Sync.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync settings in %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the full configuration to path, creating the directory if
// needed.
func Save(path string, cfg *Config) error {
	if err := cfg.Sync.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid sync settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("data_dir", cfg.DataDir)
	v.Set("dashboard_port", cfg.DashboardPort)
	v.Set("reasoning.base_url", cfg.Reasoning.BaseURL)
	v.Set("reasoning.model", cfg.Reasoning.Model)
	v.Set("reasoning.timeout", cfg.Reasoning.Timeout.String())
	v.Set("sync.layer1_enabled", cfg.Sync.Layer1Enabled)
	v.Set("sync.layer2_enabled", cfg.Sync.Layer2Enabled)
	v.Set("sync.layer3_enabled", cfg.Sync.Layer3Enabled)
	v.Set("sync.background_interval", cfg.Sync.BackgroundInterval.String())
	v.Set("sync.realtime_debounce", cfg.Sync.RealtimeDebounce.String())
	v.Set("sync.notifications", cfg.Sync.Notifications)
	v.Set("sync.auto_resolve_orphans", cfg.Sync.AutoResolveOrphans)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// SaveSettings updates only the sync section of the config file, preserving
// everything else.
func SaveSettings(path string, settings schema.SyncSettings) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	cfg.Sync = settings
	return Save(path, cfg)
}

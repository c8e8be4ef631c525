package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tendapp/tend/internal/schema"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DashboardPort != 8080 {
		t.Errorf("DashboardPort = %d, want 8080", cfg.DashboardPort)
	}
	if cfg.Sync != schema.DefaultSettings() {
		t.Errorf("Sync = %+v, want defaults", cfg.Sync)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.DashboardPort = 9191
	cfg.Reasoning.Model = "mistral"
	cfg.Sync.Layer3Enabled = false
	cfg.Sync.BackgroundInterval = 15 * time.Minute

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.DashboardPort != 9191 {
		t.Errorf("DashboardPort = %d, want 9191", loaded.DashboardPort)
	}
	if loaded.Reasoning.Model != "mistral" {
		t.Errorf("Reasoning.Model = %s, want mistral", loaded.Reasoning.Model)
	}
	if loaded.Sync.Layer3Enabled {
		t.Error("Layer3Enabled = true, want false")
	}
	if loaded.Sync.BackgroundInterval != 15*time.Minute {
		t.Errorf("BackgroundInterval = %v, want 15m", loaded.Sync.BackgroundInterval)
	}
}

func TestLoadAppliesDefaultsForAbsentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("dashboard_port: 9000\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DashboardPort != 9000 {
		t.Errorf("DashboardPort = %d, want 9000", cfg.DashboardPort)
	}
	// Everything absent falls back to defaults.
	if cfg.Sync != schema.DefaultSettings() {
		t.Errorf("Sync = %+v, want defaults", cfg.Sync)
	}
	if cfg.Reasoning.Model == "" {
		t.Error("Reasoning.Model empty, want default")
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  background_interval: 5s\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() accepted a sub-minute background interval")
	}
}

func TestSaveSettingsPreservesOtherSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.DashboardPort = 9999
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	settings := schema.DefaultSettings()
	settings.Notifications = false
	if err := SaveSettings(path, settings); err != nil {
		t.Fatalf("SaveSettings() failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Sync.Notifications {
		t.Error("Notifications = true, want false")
	}
	if loaded.DashboardPort != 9999 {
		t.Errorf("DashboardPort = %d, settings save clobbered other sections", loaded.DashboardPort)
	}
}

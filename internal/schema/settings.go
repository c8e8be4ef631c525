package schema

import (
	"fmt"
	"time"
)

// SyncSettings is the persisted engine configuration. It is loaded once at
// startup, mutated by user action, and saved immediately on change.
type SyncSettings struct {
	Layer1Enabled bool `json:"layer1_enabled" mapstructure:"layer1_enabled"`
	Layer2Enabled bool `json:"layer2_enabled" mapstructure:"layer2_enabled"`
	Layer3Enabled bool `json:"layer3_enabled" mapstructure:"layer3_enabled"`

	// BackgroundInterval is how often the background trigger fires.
	BackgroundInterval time.Duration `json:"background_interval" mapstructure:"background_interval"`

	// RealtimeDebounce is how long after the last entity mutation the
	// realtime trigger waits before running, so bursts of edits coalesce
	// into a single run.
	RealtimeDebounce time.Duration `json:"realtime_debounce" mapstructure:"realtime_debounce"`

	Notifications      bool `json:"notifications" mapstructure:"notifications"`
	AutoResolveOrphans bool `json:"auto_resolve_orphans" mapstructure:"auto_resolve_orphans"`
}

// DefaultSettings returns the settings used when nothing has been persisted.
func DefaultSettings() SyncSettings {
	return SyncSettings{
		Layer1Enabled:      true,
		Layer2Enabled:      true,
		Layer3Enabled:      true,
		BackgroundInterval: 30 * time.Minute,
		RealtimeDebounce:   2 * time.Second,
		Notifications:      true,
		AutoResolveOrphans: true,
	}
}

// Validate checks that the settings have sane values.
func (s *SyncSettings) Validate() error {
	if s.BackgroundInterval < time.Minute {
		return fmt.Errorf("background_interval must be at least 1m (got %v)", s.BackgroundInterval)
	}
	if s.RealtimeDebounce < 100*time.Millisecond {
		return fmt.Errorf("realtime_debounce must be at least 100ms (got %v)", s.RealtimeDebounce)
	}
	return nil
}

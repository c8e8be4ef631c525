package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendapp/tend/internal/config"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change sync settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current sync settings",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		s := cfg.Sync
		fmt.Printf("layer1_enabled:       %t\n", s.Layer1Enabled)
		fmt.Printf("layer2_enabled:       %t\n", s.Layer2Enabled)
		fmt.Printf("layer3_enabled:       %t\n", s.Layer3Enabled)
		fmt.Printf("background_interval:  %v\n", s.BackgroundInterval)
		fmt.Printf("realtime_debounce:    %v\n", s.RealtimeDebounce)
		fmt.Printf("notifications:        %t\n", s.Notifications)
		fmt.Printf("auto_resolve_orphans: %t\n", s.AutoResolveOrphans)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one sync setting",
	Long: `Change a sync setting and save it immediately.

Keys: layer1_enabled, layer2_enabled, layer3_enabled, background_interval,
realtime_debounce, notifications, auto_resolve_orphans.

  tend settings set layer3_enabled false
  tend settings set background_interval 15m`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, value := args[0], args[1]

		cfg, cfgPath, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		s := cfg.Sync
		switch key {
		case "layer1_enabled", "layer2_enabled", "layer3_enabled", "notifications", "auto_resolve_orphans":
			b, err := strconv.ParseBool(value)
			if err != nil {
				fatalf("%s expects true or false", key)
			}
			switch key {
			case "layer1_enabled":
				s.Layer1Enabled = b
			case "layer2_enabled":
				s.Layer2Enabled = b
			case "layer3_enabled":
				s.Layer3Enabled = b
			case "notifications":
				s.Notifications = b
			case "auto_resolve_orphans":
				s.AutoResolveOrphans = b
			}
		case "background_interval", "realtime_debounce":
			d, err := time.ParseDuration(value)
			if err != nil {
				fatalf("%s expects a duration like 30m or 2s", key)
			}
			if key == "background_interval" {
				s.BackgroundInterval = d
			} else {
				s.RealtimeDebounce = d
			}
		default:
			fatalf("unknown setting %q", key)
		}

		if err := s.Validate(); err != nil {
			fatalf("%v", err)
		}
		if err := config.SaveSettings(cfgPath, s); err != nil {
			fatalf("failed to save settings: %v", err)
		}
		fmt.Printf("%s = %s\n", key, value)
	},
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

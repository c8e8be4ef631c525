package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tendapp/tend/internal/config"
	"github.com/tendapp/tend/internal/daemon"
	"github.com/tendapp/tend/internal/dashboard"
	"github.com/tendapp/tend/internal/schema"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon with automatic triggers",
	Long: `Run the tend daemon.

The daemon keeps the database consistent without manual syncs:
  - a background pass runs at the configured interval
  - writes to the data directory schedule a debounced realtime pass
  - the dashboard server exposes the issue ledger at /api and /ws

Logs go to <data-dir>/daemon.log with rotation, and to stderr with
--foreground.`,
	Run: func(cmd *cobra.Command, args []string) {
		foreground, _ := cmd.Flags().GetBool("foreground")

		cfg, cfgPath, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		logger := daemonLogger(cfg, foreground)

		ctx := context.Background()
		eng, st, err := openEngine(ctx, cfg, logger)
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		d, err := daemon.New(eng, &daemon.Config{
			DataDir:      cfg.DataDir,
			DatabaseFile: dbFileName,
			Logger:       logger,
		})
		if err != nil {
			fatalf("failed to create daemon: %v", err)
		}
		if err := d.Start(); err != nil {
			fatalf("failed to start daemon: %v", err)
		}
		defer d.Stop()

		server := dashboard.NewServer(eng, &dashboard.Config{
			Port:   cfg.DashboardPort,
			Logger: logger,
			SaveSettings: func(s schema.SyncSettings) error {
				return config.SaveSettings(cfgPath, s)
			},
		})
		if err := server.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}
		defer server.Stop()

		fmt.Printf("Daemon running, dashboard on http://localhost:%d\n", cfg.DashboardPort)
		fmt.Println("Press Ctrl+C to stop...")

		sigCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-sigCtx.Done()

		fmt.Println("\nShutting down...")
	},
}

// daemonLogger writes to a rotating log file, or stderr in foreground mode.
func daemonLogger(cfg *config.Config, foreground bool) *log.Logger {
	if foreground {
		return log.New(os.Stderr, "[tend] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   filepath.Join(cfg.DataDir, "daemon.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}, "[tend] ", log.LstdFlags)
}

func init() {
	daemonCmd.Flags().Bool("foreground", false, "Log to stderr instead of the rotating log file")
	rootCmd.AddCommand(daemonCmd)
}

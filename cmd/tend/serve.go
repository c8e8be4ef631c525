package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tendapp/tend/internal/config"
	"github.com/tendapp/tend/internal/dashboard"
	"github.com/tendapp/tend/internal/schema"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard server without automatic triggers",
	Long: `Start the dashboard HTTP/WebSocket server.

Unlike 'tend daemon', no background or realtime triggers run; syncs happen
only when requested through the API.

Endpoints:
  GET  /api/issues, /api/status, /api/runs, /api/settings
  POST /api/sync, /api/issues/{id}/resolve, /api/issues/{id}/dismiss
  PUT  /api/settings
  WS   /ws`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")

		cfg, cfgPath, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		if port != 0 {
			cfg.DashboardPort = port
		}

		ctx := context.Background()
		logger := log.New(os.Stderr, "[tend] ", log.LstdFlags)
		eng, st, err := openEngine(ctx, cfg, logger)
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

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

		fmt.Printf("Dashboard on http://localhost:%d (ws://localhost:%d/ws)\n",
			cfg.DashboardPort, cfg.DashboardPort)
		fmt.Println("Press Ctrl+C to stop...")

		sigCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-sigCtx.Done()

		fmt.Println("\nShutting down...")
		if err := server.Stop(); err != nil {
			fatalf("error during shutdown: %v", err)
		}
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

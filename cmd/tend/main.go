// Command tend is the consistency engine for a personal life-management
// database: three detection layers, an issue ledger, and the daemon and
// dashboard that keep them running.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tendapp/tend/internal/config"
	"github.com/tendapp/tend/internal/engine"
	"github.com/tendapp/tend/internal/reason"
	"github.com/tendapp/tend/internal/store"
)

// dbFileName is the database file inside the data directory. The daemon
// filters watch events for it so engine writes don't schedule runs.
const dbFileName = "tend.db"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tend",
	Short: "Consistency engine for your goals, tasks, and logs",
	Long: `tend keeps a personal life-management database internally consistent.

It runs three detection layers over your goals, tasks, training sessions,
meals, and finance snapshots:
  1. Integrity  - finds references to deleted goals
  2. Connections - suggests goal links for unlinked items
  3. Coherence  - audits whether linked tasks still serve their goals

Findings land in a deduplicated issue ledger that you resolve, relink,
or dismiss.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: <data-dir>/config.yaml)")
}

// loadConfig resolves the config path and loads it.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(home, ".tend", "config.yaml")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// openEngine wires the store, reasoning client, and engine from config and
// reloads persisted state.
func openEngine(ctx context.Context, cfg *config.Config, logger *log.Logger) (*engine.Engine, *store.Store, error) {
	st, err := store.Open(filepath.Join(cfg.DataDir, dbFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	reasoner := reason.NewHTTPClient(cfg.ReasonConfig())
	eng := engine.New(st, reasoner, cfg.Sync, logger)
	if err := eng.Reload(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}
	return eng, st, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package daemon provides the automatic sync triggers: a background interval
// ticker, a debounced realtime trigger fed by entity mutations, and an
// fsnotify watch on the data directory so out-of-process writers also
// schedule runs.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tendapp/tend/internal/engine"
	"github.com/tendapp/tend/internal/schema"
)

// Runner is the slice of the sync engine the daemon drives.
type Runner interface {
	RunSync(ctx context.Context, opts engine.Options) (*schema.SyncRunResult, error)
	Settings() schema.SyncSettings
}

// Config holds daemon configuration.
type Config struct {
	// DataDir is the directory holding the database, watched for
	// out-of-process writes. Empty disables the file watch.
	DataDir string

	// DatabaseFile is the base name of the store's database inside
	// DataDir (default: tend.db). Writes to it and its WAL/journal
	// sidecars are the engine's own output and never arm the realtime
	// trigger; without this filter every completed run would schedule
	// the next one.
	DatabaseFile string

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DatabaseFile: "tend.db",
		Logger:       log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules sync runs. Intervals come from the runner's settings at
// start time.
type Daemon struct {
	runner Runner
	config *Config

	watcher *fsnotify.Watcher

	mu           sync.Mutex
	lastMutation time.Time
	pending      bool
	running      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon for the given runner.
func New(runner Runner, config *Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DatabaseFile == "" {
		config.DatabaseFile = "tend.db"
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		runner: runner,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the trigger goroutines. It returns immediately; use Stop to
// shut down. Calling Start twice is an error.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.mu.Unlock()

	settings := d.runner.Settings()
	d.config.Logger.Printf("Starting daemon: background every %v, debounce %v",
		settings.BackgroundInterval, settings.RealtimeDebounce)

	if d.config.DataDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		if err := watcher.Add(d.config.DataDir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch data directory %s: %w", d.config.DataDir, err)
		}
		d.watcher = watcher
		d.wg.Add(1)
		go d.watchDataDir()
		d.config.Logger.Printf("Watching %s", d.config.DataDir)
	}

	d.wg.Add(2)
	go d.backgroundLoop(settings.BackgroundInterval)
	go d.debounceLoop(settings.RealtimeDebounce)

	return nil
}

// Stop shuts the daemon down and waits for the trigger goroutines to exit.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.cancel()
	if d.watcher != nil {
		d.watcher.Close()
	}
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
}

// NotifyMutation arms the realtime debounce window. Bursts of mutations
// inside one window coalesce into a single run.
func (d *Daemon) NotifyMutation() {
	d.mu.Lock()
	d.lastMutation = time.Now()
	d.pending = true
	d.mu.Unlock()
}

// backgroundLoop fires a full sync at the configured interval.
func (d *Daemon) backgroundLoop(interval time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runSync(schema.RunBackground, engine.AllLayers(schema.RunBackground))
		}
	}
}

// debounceLoop polls the mutation timestamp and fires a realtime run once the
// debounce window has passed with no further mutations. Realtime runs skip
// the coherence audit; layer 3 stays on the background cadence.
func (d *Daemon) debounceLoop(debounce time.Duration) {
	defer d.wg.Done()

	// Poll at a fraction of the window so the run lands close to its due
	// time without a timer per mutation.
	tick := debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			due := d.pending && time.Since(d.lastMutation) >= debounce
			if due {
				d.pending = false
			}
			d.mu.Unlock()

			if due {
				d.runSync(schema.RunRealtime, engine.Options{
					Layer1:  true,
					Layer2:  true,
					RunType: schema.RunRealtime,
				})
			}
		}
	}
}

// watchDataDir converts writes in the data directory into mutation
// notifications.
func (d *Daemon) watchDataDir() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove) == 0 {
				continue
			}
			// Skip before logging: a log line here lands in the
			// daemon's own log file inside the watched directory.
			if d.ownArtifact(event.Name) {
				continue
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, filepath.Base(event.Name))
			d.NotifyMutation()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// ownArtifact reports whether a path is one of the daemon's own outputs:
// the database file, its -wal/-shm/-journal sidecars, or a log file
// (lumberjack rotations included). Reacting to those would turn every
// completed run into the trigger for the next one.
func (d *Daemon) ownArtifact(name string) bool {
	base := filepath.Base(name)
	if strings.HasSuffix(base, ".log") {
		return true
	}
	db := d.config.DatabaseFile
	return base == db || strings.HasPrefix(base, db+"-")
}

func (d *Daemon) runSync(runType schema.RunType, opts engine.Options) {
	if _, err := d.runner.RunSync(d.ctx, opts); err != nil {
		if errors.Is(err, engine.ErrSyncInProgress) {
			d.config.Logger.Printf("Skipping %s run: sync already in progress", runType)
			return
		}
		d.config.Logger.Printf("%s run failed: %v", runType, err)
	}
}

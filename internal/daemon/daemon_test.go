package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tendapp/tend/internal/engine"
	"github.com/tendapp/tend/internal/schema"
)

// fakeRunner records every RunSync call. onRun, when set, is invoked inside
// each run so tests can mimic the engine's own side effects.
type fakeRunner struct {
	mu       sync.Mutex
	runs     []engine.Options
	settings schema.SyncSettings
	err      error
	onRun    func()
}

func newFakeRunner(settings schema.SyncSettings) *fakeRunner {
	return &fakeRunner{settings: settings}
}

func (f *fakeRunner) RunSync(ctx context.Context, opts engine.Options) (*schema.SyncRunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.runs = append(f.runs, opts)
	if f.onRun != nil {
		f.onRun()
	}
	return &schema.SyncRunResult{ID: "run", RunType: opts.RunType}, nil
}

func (f *fakeRunner) Settings() schema.SyncSettings {
	return f.settings
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func (f *fakeRunner) runTypes() []schema.RunType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []schema.RunType
	for _, opts := range f.runs {
		types = append(types, opts.RunType)
	}
	return types
}

func testSettings() schema.SyncSettings {
	s := schema.DefaultSettings()
	s.BackgroundInterval = time.Minute // keep the ticker out of short tests
	s.RealtimeDebounce = 100 * time.Millisecond
	return s
}

func quietConfig() *Config {
	return &Config{Logger: log.New(io.Discard, "", 0)}
}

func waitForRuns(t *testing.T, runner *fakeRunner, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runner.runCount() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d runs, got %d", want, runner.runCount())
}

func TestDebounceCoalescesBurst(t *testing.T) {
	runner := newFakeRunner(testSettings())
	d, err := New(runner, quietConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	// Two mutations inside one debounce window must produce one run.
	d.NotifyMutation()
	time.Sleep(30 * time.Millisecond)
	d.NotifyMutation()

	waitForRuns(t, runner, 1)

	// Give the loop time to misbehave before checking it didn't.
	time.Sleep(300 * time.Millisecond)
	if got := runner.runCount(); got != 1 {
		t.Errorf("got %d runs, want 1", got)
	}
	if types := runner.runTypes(); types[0] != schema.RunRealtime {
		t.Errorf("run type = %s, want realtime", types[0])
	}
}

func TestSeparateBurstsRunSeparately(t *testing.T) {
	runner := newFakeRunner(testSettings())
	d, err := New(runner, quietConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	d.NotifyMutation()
	waitForRuns(t, runner, 1)

	d.NotifyMutation()
	waitForRuns(t, runner, 2)
}

func TestRealtimeRunSkipsCoherence(t *testing.T) {
	runner := newFakeRunner(testSettings())
	d, err := New(runner, quietConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	d.NotifyMutation()
	waitForRuns(t, runner, 1)

	runner.mu.Lock()
	opts := runner.runs[0]
	runner.mu.Unlock()
	if !opts.Layer1 || !opts.Layer2 {
		t.Errorf("realtime run layers = %+v, want 1 and 2", opts)
	}
	if opts.Layer3 {
		t.Error("realtime run included layer 3")
	}
}

func TestBackgroundTickerRunsAllLayers(t *testing.T) {
	settings := testSettings()
	settings.BackgroundInterval = 80 * time.Millisecond
	runner := newFakeRunner(settings)

	d, err := New(runner, quietConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	waitForRuns(t, runner, 1)

	runner.mu.Lock()
	opts := runner.runs[0]
	runner.mu.Unlock()
	if opts.RunType != schema.RunBackground {
		t.Errorf("run type = %s, want background", opts.RunType)
	}
	if !opts.Layer1 || !opts.Layer2 || !opts.Layer3 {
		t.Errorf("background run layers = %+v, want all", opts)
	}
}

func TestFileWatchTriggersRun(t *testing.T) {
	dir := t.TempDir()
	runner := newFakeRunner(testSettings())

	config := quietConfig()
	config.DataDir = dir
	d, err := New(runner, config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	// A file the daemon doesn't own, as an external tool would write it.
	if err := os.WriteFile(filepath.Join(dir, "import.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	waitForRuns(t, runner, 1)
}

func TestOwnArtifactsIgnored(t *testing.T) {
	dir := t.TempDir()
	runner := newFakeRunner(testSettings())

	config := quietConfig()
	config.DataDir = dir
	d, err := New(runner, config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	for _, name := range []string{"tend.db", "tend.db-wal", "tend.db-shm", "daemon.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	time.Sleep(400 * time.Millisecond)
	if got := runner.runCount(); got != 0 {
		t.Errorf("got %d runs from the daemon's own files, want 0", got)
	}
}

func TestEngineWritesDoNotRetrigger(t *testing.T) {
	dir := t.TempDir()
	runner := newFakeRunner(testSettings())
	// Every run persists its result into the watched directory, the way the
	// engine writes the run record into the database.
	n := 0
	runner.onRun = func() {
		n++
		name := filepath.Join(dir, "tend.db-wal")
		if err := os.WriteFile(name, []byte{byte(n)}, 0o644); err != nil {
			t.Errorf("failed to write db file: %v", err)
		}
	}

	config := quietConfig()
	config.DataDir = dir
	d, err := New(runner, config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	d.NotifyMutation()
	waitForRuns(t, runner, 1)

	// One mutation must mean one run. If the run's own write re-armed the
	// debounce, runs would keep firing every window.
	time.Sleep(500 * time.Millisecond)
	if got := runner.runCount(); got != 1 {
		t.Errorf("got %d runs from one mutation, want 1", got)
	}
}

func TestStartTwiceFails(t *testing.T) {
	runner := newFakeRunner(testSettings())
	d, err := New(runner, quietConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer d.Stop()

	if err := d.Start(); err == nil {
		t.Error("second Start() succeeded")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	runner := newFakeRunner(testSettings())
	d, err := New(runner, quietConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	d.Stop()
	d.Stop()
}

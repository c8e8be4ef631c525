// Package engine implements the multi-layer consistency reconciliation core:
// the integrity checker (layer 1), smart connections (layer 2), the
// coherence auditor (layer 3), the issue ledger commands, and the
// orchestrator that sequences the layers and owns the run lock.
//
// The engine is an explicit service object: it owns its run state and issue
// snapshot, exposes commands plus a read-only view, and is handed its
// collaborators (store, reasoning client, settings) at construction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendapp/tend/internal/reason"
	"github.com/tendapp/tend/internal/schema"
	"github.com/tendapp/tend/internal/store"
)

// ErrSyncInProgress is returned when RunSync is called while another run
// holds the run lock. Concurrent runs are rejected, never queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrReasoningUnavailable is returned by operations that require the
// reasoning service when it cannot be reached.
var ErrReasoningUnavailable = errors.New("reasoning service unavailable")

// Engine owns the three detection layers, the issue snapshot, and the run
// lock. All methods are safe for concurrent use.
type Engine struct {
	store    *store.Store
	reasoner reason.Client // nil means reasoning permanently unavailable
	logger   *log.Logger

	mu           sync.Mutex
	running      bool
	currentLayer int
	settings     schema.SyncSettings
	issues       []*schema.SyncIssue
	lastRun      *schema.SyncRunResult
	history      []*schema.SyncRunResult
}

// New creates an engine. The store must be open with schema initialized.
// reasoner may be nil, in which case layers 2 and 3 run in rule-based /
// skipped mode. If logger is nil, a default stderr logger is used.
func New(st *store.Store, reasoner reason.Client, settings schema.SyncSettings, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		store:    st,
		reasoner: reasoner,
		logger:   logger,
		settings: settings,
	}
}

// Options selects which layers a run executes and tags the run's trigger.
type Options struct {
	Layer1  bool
	Layer2  bool
	Layer3  bool
	RunType schema.RunType
}

// AllLayers returns options that run every enabled layer.
func AllLayers(runType schema.RunType) Options {
	return Options{Layer1: true, Layer2: true, Layer3: true, RunType: runType}
}

// RunSync executes the requested layers strictly in order 1→2→3 and records
// a completed run in the bounded history. It fails fast with
// ErrSyncInProgress when a run is already active.
//
// A store failure aborts the run: the partial result is not persisted,
// isRunning is cleared, and the previous issue snapshot is left untouched.
// Earlier layers' applied fixes remain (they were committed to the store).
func (e *Engine) RunSync(ctx context.Context, opts Options) (*schema.SyncRunResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	e.running = true
	e.currentLayer = 0
	settings := e.settings
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.currentLayer = 0
		e.mu.Unlock()
	}()

	if opts.RunType == "" {
		opts.RunType = schema.RunManual
	}

	result := &schema.SyncRunResult{
		ID:        uuid.NewString(),
		RunType:   opts.RunType,
		StartedAt: time.Now(),
	}
	e.logger.Printf("Starting %s sync run %s", result.RunType, result.ID)

	newIssues := 0

	if opts.Layer1 && settings.Layer1Enabled {
		e.setCurrentLayer(1)
		res, inserted, err := e.runIntegrityCheck(ctx, settings.AutoResolveOrphans)
		if err != nil {
			return nil, fmt.Errorf("integrity check failed: %w", err)
		}
		result.Layer1 = res
		result.ResolvedIssues = res.IssuesFixed
		newIssues += inserted
	}

	if opts.Layer2 && settings.Layer2Enabled {
		e.setCurrentLayer(2)
		res, inserted, err := e.runSmartConnections(ctx)
		if err != nil {
			return nil, fmt.Errorf("smart connections failed: %w", err)
		}
		result.Layer2 = res
		newIssues += inserted
	}

	if opts.Layer3 && settings.Layer3Enabled {
		e.setCurrentLayer(3)
		res, inserted, err := e.runCoherenceAudit(ctx)
		if err != nil {
			return nil, fmt.Errorf("coherence audit failed: %w", err)
		}
		result.Layer3 = res
		newIssues += inserted
	}

	total, err := e.store.CountUnresolvedIssues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count issues after run: %w", err)
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.TotalIssues = total
	result.NewIssues = newIssues

	if err := e.store.InsertRun(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}

	// Reload the full unresolved set so the read model reflects the run
	// atomically rather than incrementally.
	issues, err := e.store.ListUnresolvedIssues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reload issues after run: %w", err)
	}

	e.mu.Lock()
	e.issues = issues
	e.lastRun = result
	e.history = append([]*schema.SyncRunResult{result}, e.history...)
	if len(e.history) > 5 {
		e.history = e.history[:5]
	}
	e.mu.Unlock()

	e.logger.Printf("Run %s complete in %v: %d total, %d new, %d fixed",
		result.ID, result.Duration.Round(time.Millisecond),
		result.TotalIssues, result.NewIssues, result.ResolvedIssues)

	return result, nil
}

func (e *Engine) setCurrentLayer(layer int) {
	e.mu.Lock()
	e.currentLayer = layer
	e.mu.Unlock()
}

// Reload refreshes the issue snapshot and run history from the store. Called
// once at startup: persisted issue state is always reloaded, never trusted
// from cache.
func (e *Engine) Reload(ctx context.Context) error {
	issues, err := e.store.ListUnresolvedIssues(ctx)
	if err != nil {
		return fmt.Errorf("failed to load issues: %w", err)
	}
	runs, err := e.store.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to load run history: %w", err)
	}

	e.mu.Lock()
	e.issues = issues
	e.history = runs
	if len(runs) > 0 {
		e.lastRun = runs[0]
	}
	e.mu.Unlock()
	return nil
}

// Issues returns a copy of the current unresolved issue snapshot.
func (e *Engine) Issues() []*schema.SyncIssue {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*schema.SyncIssue, len(e.issues))
	copy(out, e.issues)
	return out
}

// UnresolvedCount returns the number of issues in the current snapshot.
func (e *Engine) UnresolvedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.issues)
}

// LastRun returns the most recently completed run, or nil.
func (e *Engine) LastRun() *schema.SyncRunResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

// History returns the in-memory run history, most recent first.
func (e *Engine) History() []*schema.SyncRunResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*schema.SyncRunResult, len(e.history))
	copy(out, e.history)
	return out
}

// IsRunning reports whether a sync run is currently executing.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// CurrentLayer returns the layer currently executing (0 when idle).
func (e *Engine) CurrentLayer() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentLayer
}

// Settings returns the engine's current settings.
func (e *Engine) Settings() schema.SyncSettings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// SetSettings replaces the engine's settings. Persistence is the caller's
// responsibility (settings are saved immediately by the config layer).
func (e *Engine) SetSettings(s schema.SyncSettings) {
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
}

// newIssueID returns a fresh unique issue ID.
func newIssueID() string {
	return "iss-" + uuid.NewString()
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tendapp/tend/internal/schema"
)

// runHistoryLimit bounds the persisted run history. Older runs are pruned on
// insert.
const runHistoryLimit = 5

// InsertRun persists a completed sync run and prunes history beyond the
// retention bound. Only fully completed runs should ever reach this method.
func (s *Store) InsertRun(ctx context.Context, run *schema.SyncRunResult) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO sync_runs (id, run_type, started_at, completed_at, duration_ms, result)
	VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.RunType),
		run.StartedAt.Format(time.RFC3339Nano),
		run.CompletedAt.Format(time.RFC3339Nano),
		run.Duration.Milliseconds(),
		string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
	DELETE FROM sync_runs WHERE id NOT IN (
		SELECT id FROM sync_runs ORDER BY started_at DESC LIMIT ?
	)`, runHistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to prune run history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the persisted run history, most recent first.
func (s *Store) ListRuns(ctx context.Context) ([]*schema.SyncRunResult, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT result FROM sync_runs ORDER BY started_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*schema.SyncRunResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var run schema.SyncRunResult
		if err := json.Unmarshal([]byte(payload), &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

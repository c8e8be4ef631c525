package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tendapp/tend/internal/schema"
)

// InsertIssue inserts an unresolved issue, deduplicated against the current
// unresolved set. Returns true if the issue was inserted, false if an
// unresolved issue with the same identity key already exists.
//
// The dedupe check and the insert are a single statement, so a concurrent
// resolution racing with a rediscovery can never produce two unresolved rows
// for the same key.
func (s *Store) InsertIssue(ctx context.Context, issue *schema.SyncIssue) (bool, error) {
	if err := issue.Validate(); err != nil {
		return false, fmt.Errorf("invalid issue: %w", err)
	}

	query := `
	INSERT OR IGNORE INTO sync_issues (
		id, type, severity,
		entity_type, entity_id, entity_title,
		linked_entity_type, linked_entity_id,
		suggested_goal_id, suggested_goal_title,
		description, suggestion, confidence,
		layer, detected_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.conn.ExecContext(ctx, query,
		issue.ID, string(issue.Type), string(issue.Severity),
		string(issue.EntityType), issue.EntityID, issue.EntityTitle,
		string(issue.LinkedEntityType), issue.LinkedEntityID,
		issue.SuggestedGoalID, issue.SuggestedGoalTitle,
		issue.Description, issue.Suggestion, issue.Confidence,
		issue.Layer, issue.DetectedAt.Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("failed to insert issue %s: %w", issue.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check issue insert: %w", err)
	}
	return n > 0, nil
}

const issueColumns = `id, type, severity,
	entity_type, entity_id, entity_title,
	linked_entity_type, linked_entity_id,
	suggested_goal_id, suggested_goal_title,
	description, suggestion, confidence,
	layer, detected_at, resolved_at, resolution`

func scanIssue(row rowScanner) (*schema.SyncIssue, error) {
	var i schema.SyncIssue
	var typ, severity, entityType, linkedType, resolution string
	var detectedAt string
	var resolvedAt sql.NullString

	err := row.Scan(
		&i.ID, &typ, &severity,
		&entityType, &i.EntityID, &i.EntityTitle,
		&linkedType, &i.LinkedEntityID,
		&i.SuggestedGoalID, &i.SuggestedGoalTitle,
		&i.Description, &i.Suggestion, &i.Confidence,
		&i.Layer, &detectedAt, &resolvedAt, &resolution)
	if err != nil {
		return nil, err
	}

	i.Type = schema.IssueType(typ)
	i.Severity = schema.Severity(severity)
	i.EntityType = schema.EntityType(entityType)
	i.LinkedEntityType = schema.EntityType(linkedType)
	i.Resolution = schema.Resolution(resolution)
	i.DetectedAt = parseTime(detectedAt)
	i.ResolvedAt = nullStringToTime(resolvedAt)
	return &i, nil
}

// GetIssue retrieves an issue by ID. Returns ErrNotFound if it doesn't exist.
func (s *Store) GetIssue(ctx context.Context, id string) (*schema.SyncIssue, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+issueColumns+" FROM sync_issues WHERE id = ?", id)

	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %s: %w", id, err)
	}
	return issue, nil
}

// ListUnresolvedIssues returns all unresolved issues, most severe and oldest
// first: critical before warning before info, then by detection time.
func (s *Store) ListUnresolvedIssues(ctx context.Context) ([]*schema.SyncIssue, error) {
	query := `
	SELECT ` + issueColumns + `
	FROM sync_issues
	WHERE resolved_at IS NULL
	ORDER BY CASE severity
		WHEN 'critical' THEN 0
		WHEN 'warning' THEN 1
		ELSE 2
	END, detected_at ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved issues: %w", err)
	}
	defer rows.Close()

	var issues []*schema.SyncIssue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating issues: %w", err)
	}
	return issues, nil
}

// CountUnresolvedIssues returns the number of unresolved issues.
func (s *Store) CountUnresolvedIssues(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_issues WHERE resolved_at IS NULL").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unresolved issues: %w", err)
	}
	return count, nil
}

// ResolveIssue applies the entity mutation implied by the resolution and
// stamps the issue resolved, in one transaction. Either both apply or
// neither does.
//
// Resolutions:
//   - linked: set the entity's link field to newLinkID, or the issue's
//     suggested goal when newLinkID is empty
//   - unlinked: clear the entity's link field
//   - deleted: delete the subject entity
//   - ignored: stamp only, entity untouched
//
// Returns ErrNotFound when the issue is missing or already resolved, or when
// the resolution mutates an entity that no longer exists. In every error
// case the issue remains unresolved so it can be retried.
func (s *Store) ResolveIssue(ctx context.Context, id string, resolution schema.Resolution, newLinkID string) error {
	if !resolution.Valid() {
		return fmt.Errorf("invalid resolution %q", resolution)
	}

	issue, err := s.GetIssue(ctx, id)
	if err != nil {
		return err
	}
	if issue.Resolved() {
		return fmt.Errorf("issue %s already resolved: %w", id, ErrNotFound)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	switch resolution {
	case schema.ResolutionLinked:
		target := newLinkID
		if target == "" {
			target = issue.SuggestedGoalID
		}
		if target == "" {
			return fmt.Errorf("issue %s has no suggested goal and no link id was given", id)
		}
		if err := s.setLink(ctx, tx, issue.EntityType, issue.EntityID, target); err != nil {
			return err
		}
	case schema.ResolutionUnlinked:
		if err := s.setLink(ctx, tx, issue.EntityType, issue.EntityID, ""); err != nil {
			return err
		}
	case schema.ResolutionDeleted:
		if err := s.deleteEntity(ctx, tx, issue.EntityType, issue.EntityID); err != nil {
			return err
		}
	case schema.ResolutionIgnored:
		// Stamp only.
	}

	res, err := tx.ExecContext(ctx, `
	UPDATE sync_issues SET resolved_at = ?, resolution = ?
	WHERE id = ? AND resolved_at IS NULL`,
		time.Now().Format(time.RFC3339Nano), string(resolution), id)
	if err != nil {
		return fmt.Errorf("failed to stamp issue %s resolved: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check issue stamp: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("issue %s resolved concurrently: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resolution of %s: %w", id, err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tendapp/tend/internal/schema"
)

// linkColumn maps an entity type to the table and column holding its goal
// link. The ledger and the integrity checker mutate links through this table
// so that link semantics live in exactly one place.
func linkColumn(entityType schema.EntityType) (table, column string, ok bool) {
	switch entityType {
	case schema.EntityTask:
		return "tasks", "weekly_goal_id", true
	case schema.EntitySession:
		return "sessions", "linked_goal_id", true
	case schema.EntityMeal:
		return "meals", "linked_goal_id", true
	case schema.EntitySnapshot:
		return "finance_snapshots", "linked_goal_id", true
	case schema.EntityGoal:
		return "goals", "parent_id", true
	}
	return "", "", false
}

// entityTable maps an entity type to its table for deletion.
func entityTable(entityType schema.EntityType) (string, bool) {
	table, _, ok := linkColumn(entityType)
	return table, ok
}

// UpsertGoal inserts or updates a goal.
func (s *Store) UpsertGoal(ctx context.Context, g *schema.Goal) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid goal: %w", err)
	}

	query := `
	INSERT INTO goals (id, title, description, horizon, aspect, status, parent_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		horizon = excluded.horizon,
		aspect = excluded.aspect,
		status = excluded.status,
		parent_id = excluded.parent_id,
		updated_at = excluded.updated_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		g.ID, g.Title, g.Description, string(g.Horizon), g.Aspect, g.Status, g.ParentID,
		g.CreatedAt.Format(time.RFC3339Nano), g.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert goal %s: %w", g.ID, err)
	}
	return nil
}

// GetGoal retrieves a goal by ID. Returns ErrNotFound if it doesn't exist.
func (s *Store) GetGoal(ctx context.Context, id string) (*schema.Goal, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT id, title, description, horizon, aspect, status, parent_id, created_at, updated_at
	FROM goals WHERE id = ?`, id)

	var g schema.Goal
	var horizon, createdAt, updatedAt string
	err := row.Scan(&g.ID, &g.Title, &g.Description, &horizon, &g.Aspect, &g.Status, &g.ParentID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get goal %s: %w", id, err)
	}

	g.Horizon = schema.Horizon(horizon)
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	return &g, nil
}

// GoalExists reports whether a goal with the given ID exists.
func (s *Store) GoalExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx, "SELECT 1 FROM goals WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check goal %s: %w", id, err)
	}
	return true, nil
}

// GoalFilter configures the ListGoals query.
type GoalFilter struct {
	// Status filters by goal status (empty = all statuses)
	Status string
	// Horizon filters by planning horizon (empty = all horizons)
	Horizon schema.Horizon
}

// ListGoals retrieves goals matching the filter, ordered by creation time.
func (s *Store) ListGoals(ctx context.Context, filter GoalFilter) ([]*schema.Goal, error) {
	query := `
	SELECT id, title, description, horizon, aspect, status, parent_id, created_at, updated_at
	FROM goals WHERE 1=1`
	var args []interface{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Horizon != "" {
		query += " AND horizon = ?"
		args = append(args, string(filter.Horizon))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer rows.Close()

	var goals []*schema.Goal
	for rows.Next() {
		var g schema.Goal
		var horizon, createdAt, updatedAt string
		if err := rows.Scan(&g.ID, &g.Title, &g.Description, &horizon, &g.Aspect, &g.Status, &g.ParentID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		g.Horizon = schema.Horizon(horizon)
		g.CreatedAt = parseTime(createdAt)
		g.UpdatedAt = parseTime(updatedAt)
		goals = append(goals, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating goals: %w", err)
	}
	return goals, nil
}

// DeleteGoal removes a goal. Deleting is idempotent.
func (s *Store) DeleteGoal(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM goals WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete goal %s: %w", id, err)
	}
	return nil
}

// UpsertTask inserts or updates a task.
func (s *Store) UpsertTask(ctx context.Context, t *schema.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	query := `
	INSERT INTO tasks (id, title, notes, aspect, status, defer_count, weekly_goal_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		notes = excluded.notes,
		aspect = excluded.aspect,
		status = excluded.status,
		defer_count = excluded.defer_count,
		weekly_goal_id = excluded.weekly_goal_id,
		updated_at = excluded.updated_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		t.ID, t.Title, t.Notes, t.Aspect, t.Status, t.DeferCount, t.WeeklyGoalID,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns ErrNotFound if it doesn't exist.
func (s *Store) GetTask(ctx context.Context, id string) (*schema.Task, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT id, title, notes, aspect, status, defer_count, weekly_goal_id, created_at, updated_at
	FROM tasks WHERE id = ?`, id)

	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTaskRow(row rowScanner) (*schema.Task, error) {
	var t schema.Task
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.Title, &t.Notes, &t.Aspect, &t.Status, &t.DeferCount, &t.WeeklyGoalID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

const taskColumns = "id, title, notes, aspect, status, defer_count, weekly_goal_id, created_at, updated_at"

func (s *Store) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*schema.Task, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*schema.Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// ListLinkedTasks returns all tasks carrying a weekly goal link.
func (s *Store) ListLinkedTasks(ctx context.Context) ([]*schema.Task, error) {
	return s.queryTasks(ctx, "SELECT "+taskColumns+" FROM tasks WHERE weekly_goal_id != '' ORDER BY created_at ASC")
}

// ListUnlinkedTasks returns non-done tasks without a weekly goal link.
func (s *Store) ListUnlinkedTasks(ctx context.Context) ([]*schema.Task, error) {
	return s.queryTasks(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE weekly_goal_id = '' AND status != ? ORDER BY created_at ASC",
		schema.TaskDone)
}

// ListAuditTasks returns up to limit non-done linked tasks prioritized for
// the coherence audit: higher defer count first (a proxy for avoidance),
// then newest first.
func (s *Store) ListAuditTasks(ctx context.Context, limit int) ([]*schema.Task, error) {
	return s.queryTasks(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE weekly_goal_id != '' AND status != ? ORDER BY defer_count DESC, created_at DESC LIMIT ?",
		schema.TaskDone, limit)
}

// DeleteTask removes a task. Deleting is idempotent.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// UpsertSession inserts or updates a training session.
func (s *Store) UpsertSession(ctx context.Context, sess *schema.Session) error {
	query := `
	INSERT INTO sessions (id, title, aspect, linked_goal_id, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		aspect = excluded.aspect,
		linked_goal_id = excluded.linked_goal_id
	`
	_, err := s.conn.ExecContext(ctx, query,
		sess.ID, sess.Title, sess.Aspect, sess.LinkedGoalID, sess.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession retrieves a session by ID. Returns ErrNotFound if missing.
func (s *Store) GetSession(ctx context.Context, id string) (*schema.Session, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, title, aspect, linked_goal_id, created_at FROM sessions WHERE id = ?", id)

	var sess schema.Session
	var createdAt string
	err := row.Scan(&sess.ID, &sess.Title, &sess.Aspect, &sess.LinkedGoalID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	sess.CreatedAt = parseTime(createdAt)
	return &sess, nil
}

func (s *Store) querySessions(ctx context.Context, query string, args ...interface{}) ([]*schema.Session, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*schema.Session
	for rows.Next() {
		var sess schema.Session
		var createdAt string
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Aspect, &sess.LinkedGoalID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.CreatedAt = parseTime(createdAt)
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// ListLinkedSessions returns all sessions carrying a goal link.
func (s *Store) ListLinkedSessions(ctx context.Context) ([]*schema.Session, error) {
	return s.querySessions(ctx,
		"SELECT id, title, aspect, linked_goal_id, created_at FROM sessions WHERE linked_goal_id != '' ORDER BY created_at ASC")
}

// ListUnlinkedSessions returns sessions without a goal link.
func (s *Store) ListUnlinkedSessions(ctx context.Context) ([]*schema.Session, error) {
	return s.querySessions(ctx,
		"SELECT id, title, aspect, linked_goal_id, created_at FROM sessions WHERE linked_goal_id = '' ORDER BY created_at ASC")
}

// DeleteSession removes a session. Deleting is idempotent.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// UpsertMeal inserts or updates a meal.
func (s *Store) UpsertMeal(ctx context.Context, m *schema.Meal) error {
	query := `
	INSERT INTO meals (id, title, aspect, linked_goal_id, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		aspect = excluded.aspect,
		linked_goal_id = excluded.linked_goal_id
	`
	_, err := s.conn.ExecContext(ctx, query,
		m.ID, m.Title, m.Aspect, m.LinkedGoalID, m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert meal %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) queryMeals(ctx context.Context, query string, args ...interface{}) ([]*schema.Meal, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query meals: %w", err)
	}
	defer rows.Close()

	var meals []*schema.Meal
	for rows.Next() {
		var m schema.Meal
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Title, &m.Aspect, &m.LinkedGoalID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan meal: %w", err)
		}
		m.CreatedAt = parseTime(createdAt)
		meals = append(meals, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meals: %w", err)
	}
	return meals, nil
}

// ListLinkedMeals returns all meals carrying a goal link.
func (s *Store) ListLinkedMeals(ctx context.Context) ([]*schema.Meal, error) {
	return s.queryMeals(ctx,
		"SELECT id, title, aspect, linked_goal_id, created_at FROM meals WHERE linked_goal_id != '' ORDER BY created_at ASC")
}

// ListUnlinkedMeals returns meals without a goal link.
func (s *Store) ListUnlinkedMeals(ctx context.Context) ([]*schema.Meal, error) {
	return s.queryMeals(ctx,
		"SELECT id, title, aspect, linked_goal_id, created_at FROM meals WHERE linked_goal_id = '' ORDER BY created_at ASC")
}

// UpsertSnapshot inserts or updates a finance snapshot.
func (s *Store) UpsertSnapshot(ctx context.Context, snap *schema.FinanceSnapshot) error {
	query := `
	INSERT INTO finance_snapshots (id, title, linked_goal_id, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		linked_goal_id = excluded.linked_goal_id
	`
	_, err := s.conn.ExecContext(ctx, query,
		snap.ID, snap.Title, snap.LinkedGoalID, snap.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// ListLinkedSnapshots returns all finance snapshots carrying a goal link.
func (s *Store) ListLinkedSnapshots(ctx context.Context) ([]*schema.FinanceSnapshot, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, title, linked_goal_id, created_at FROM finance_snapshots WHERE linked_goal_id != '' ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*schema.FinanceSnapshot
	for rows.Next() {
		var snap schema.FinanceSnapshot
		var createdAt string
		if err := rows.Scan(&snap.ID, &snap.Title, &snap.LinkedGoalID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.CreatedAt = parseTime(createdAt)
		snaps = append(snaps, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snaps, nil
}

// ClearLink clears the goal link field of the given entity. Returns
// ErrNotFound when the entity does not exist.
func (s *Store) ClearLink(ctx context.Context, entityType schema.EntityType, id string) error {
	return s.setLink(ctx, s.conn, entityType, id, "")
}

// SetLink sets the goal link field of the given entity. Returns ErrNotFound
// when the entity does not exist.
func (s *Store) SetLink(ctx context.Context, entityType schema.EntityType, id, goalID string) error {
	return s.setLink(ctx, s.conn, entityType, id, goalID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) setLink(ctx context.Context, ex execer, entityType schema.EntityType, id, goalID string) error {
	table, column, ok := linkColumn(entityType)
	if !ok {
		return fmt.Errorf("entity type %q has no link field", entityType)
	}

	res, err := ex.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s = ? WHERE id = ?", table, column), goalID, id)
	if err != nil {
		return fmt.Errorf("failed to update %s link for %s: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check %s link update for %s: %w", table, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) deleteEntity(ctx context.Context, ex execer, entityType schema.EntityType, id string) error {
	table, ok := entityTable(entityType)
	if !ok {
		return fmt.Errorf("unknown entity type %q", entityType)
	}

	res, err := ex.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", entityType, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete of %s %s: %w", entityType, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

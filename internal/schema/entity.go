// Package schema provides the data structures shared by the tend sync engine:
// the life-management entities (goals, tasks, sessions, meals, finance
// snapshots) and the engine's own records (sync issues, run results,
// settings).
package schema

import (
	"fmt"
	"time"
)

// EntityType identifies which store an entity lives in. It is used in issue
// identity keys and by the ledger to route link mutations.
type EntityType string

const (
	EntityGoal     EntityType = "goal"
	EntityTask     EntityType = "task"
	EntitySession  EntityType = "session"
	EntityMeal     EntityType = "meal"
	EntitySnapshot EntityType = "snapshot"
)

// Horizon is the planning horizon of a goal. Weekly goals link up to monthly
// goals, monthly goals to yearly goals.
type Horizon string

const (
	HorizonYearly  Horizon = "yearly"
	HorizonMonthly Horizon = "monthly"
	HorizonWeekly  Horizon = "weekly"
)

// Goal statuses. Only active goals are candidates for smart connections.
const (
	GoalActive    = "active"
	GoalCompleted = "completed"
	GoalArchived  = "archived"
)

// Task statuses.
const (
	TaskOpen       = "open"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
)

// Goal is a yearly, monthly, or weekly goal. Weekly and monthly goals carry a
// ParentID pointing one level up the hierarchy; the parent may have been
// deleted out from under them, which is exactly what the integrity checker
// looks for.
type Goal struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Horizon     Horizon   `json:"horizon"`
	Aspect      string    `json:"aspect,omitempty"` // fitness, nutrition, finance, ...
	Status      string    `json:"status"`
	ParentID    string    `json:"parent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks that the goal has valid field values.
func (g *Goal) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("id is required")
	}
	if g.Title == "" {
		return fmt.Errorf("title is required")
	}
	switch g.Horizon {
	case HorizonYearly, HorizonMonthly, HorizonWeekly:
	default:
		return fmt.Errorf("invalid horizon %q", g.Horizon)
	}
	if g.Horizon == HorizonYearly && g.ParentID != "" {
		return fmt.Errorf("yearly goals cannot have a parent")
	}
	if g.Status == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}

// Task is a unit of work, optionally linked to a weekly goal. DeferCount
// tracks how many times the user pushed the task out; the coherence auditor
// uses it to prioritize tasks most likely to have drifted from their goal.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Notes        string    `json:"notes,omitempty"`
	Aspect       string    `json:"aspect,omitempty"`
	Status       string    `json:"status"`
	DeferCount   int       `json:"defer_count"`
	WeeklyGoalID string    `json:"weekly_goal_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks that the task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if t.Status == "" {
		return fmt.Errorf("status is required")
	}
	if t.DeferCount < 0 {
		return fmt.Errorf("defer_count cannot be negative (got %d)", t.DeferCount)
	}
	return nil
}

// IsDone reports whether the task is in a terminal state.
func (t *Task) IsDone() bool {
	return t.Status == TaskDone
}

// Session is a training session, optionally linked to a goal.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Aspect       string    `json:"aspect,omitempty"`
	LinkedGoalID string    `json:"linked_goal_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Meal is a logged meal, optionally linked to a goal.
type Meal struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Aspect       string    `json:"aspect,omitempty"`
	LinkedGoalID string    `json:"linked_goal_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// FinanceSnapshot is a point-in-time financial record, optionally linked to a
// goal.
type FinanceSnapshot struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LinkedGoalID string    `json:"linked_goal_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

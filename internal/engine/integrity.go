package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tendapp/tend/internal/schema"
	"github.com/tendapp/tend/internal/store"
)

// runIntegrityCheck is layer 1: it walks every goal link in the store and
// reports references to goals that no longer exist.
//
// Dangling links on sessions, meals, and snapshots are simple optional
// references; with autoResolve enabled they are cleared in place and counted
// as fixed instead of becoming issues. Task links and goal parent links are
// structural, so those always surface as critical issues for the user to
// decide.
//
// Returns the layer result and how many issues were newly inserted (rediscovered
// issues dedupe against the unresolved set and do not count as new).
func (e *Engine) runIntegrityCheck(ctx context.Context, autoResolve bool) (schema.IntegrityResult, int, error) {
	res := schema.IntegrityResult{Ran: true}
	inserted := 0

	report := func(issue *schema.SyncIssue) error {
		res.IssuesFound++
		isNew, err := e.store.InsertIssue(ctx, issue)
		if err != nil {
			return err
		}
		if isNew {
			inserted++
		}
		return nil
	}

	tasks, err := e.store.ListLinkedTasks(ctx)
	if err != nil {
		return res, 0, err
	}
	for _, t := range tasks {
		exists, err := e.store.GoalExists(ctx, t.WeeklyGoalID)
		if err != nil {
			return res, 0, err
		}
		if exists {
			continue
		}
		if err := report(e.orphanedLinkIssue(schema.EntityTask, t.ID, t.Title, t.WeeklyGoalID,
			fmt.Sprintf("Task %q references weekly goal %s, which no longer exists", t.Title, t.WeeklyGoalID))); err != nil {
			return res, 0, err
		}
	}

	goals, err := e.store.ListGoals(ctx, store.GoalFilter{})
	if err != nil {
		return res, 0, err
	}
	for _, g := range goals {
		if g.ParentID == "" {
			continue
		}
		exists, err := e.store.GoalExists(ctx, g.ParentID)
		if err != nil {
			return res, 0, err
		}
		if exists {
			continue
		}
		if err := report(e.orphanedLinkIssue(schema.EntityGoal, g.ID, g.Title, g.ParentID,
			fmt.Sprintf("%s goal %q references parent goal %s, which no longer exists", g.Horizon, g.Title, g.ParentID))); err != nil {
			return res, 0, err
		}
	}

	sessions, err := e.store.ListLinkedSessions(ctx)
	if err != nil {
		return res, 0, err
	}
	for _, sess := range sessions {
		fixed, err := e.checkOptionalLink(ctx, autoResolve, schema.EntitySession, sess.ID, sess.Title, sess.LinkedGoalID, report)
		if err != nil {
			return res, 0, err
		}
		if fixed {
			res.IssuesFixed++
		}
	}

	meals, err := e.store.ListLinkedMeals(ctx)
	if err != nil {
		return res, 0, err
	}
	for _, m := range meals {
		fixed, err := e.checkOptionalLink(ctx, autoResolve, schema.EntityMeal, m.ID, m.Title, m.LinkedGoalID, report)
		if err != nil {
			return res, 0, err
		}
		if fixed {
			res.IssuesFixed++
		}
	}

	snaps, err := e.store.ListLinkedSnapshots(ctx)
	if err != nil {
		return res, 0, err
	}
	for _, snap := range snaps {
		fixed, err := e.checkOptionalLink(ctx, autoResolve, schema.EntitySnapshot, snap.ID, snap.Title, snap.LinkedGoalID, report)
		if err != nil {
			return res, 0, err
		}
		if fixed {
			res.IssuesFixed++
		}
	}

	return res, inserted, nil
}

// checkOptionalLink verifies one session/meal/snapshot goal link. Returns
// true when a dangling link was auto-cleared.
func (e *Engine) checkOptionalLink(ctx context.Context, autoResolve bool, entityType schema.EntityType, id, title, goalID string, report func(*schema.SyncIssue) error) (bool, error) {
	exists, err := e.store.GoalExists(ctx, goalID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if autoResolve {
		if err := e.store.ClearLink(ctx, entityType, id); err != nil {
			return false, err
		}
		e.logger.Printf("Cleared dangling goal link %s on %s %s", goalID, entityType, id)
		return true, nil
	}

	err = report(e.orphanedLinkIssue(entityType, id, title, goalID,
		fmt.Sprintf("%s %q references goal %s, which no longer exists", entityType, title, goalID)))
	return false, err
}

func (e *Engine) orphanedLinkIssue(entityType schema.EntityType, id, title, goalID, description string) *schema.SyncIssue {
	return &schema.SyncIssue{
		ID:               newIssueID(),
		Type:             schema.IssueOrphanedLink,
		Severity:         schema.SeverityCritical,
		EntityType:       entityType,
		EntityID:         id,
		EntityTitle:      title,
		LinkedEntityType: schema.EntityGoal,
		LinkedEntityID:   goalID,
		Description:      description,
		Suggestion:       "Remove the link or relink to an existing goal",
		Confidence:       1.0,
		Layer:            1,
		DetectedAt:       time.Now(),
	}
}

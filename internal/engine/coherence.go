package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tendapp/tend/internal/reason"
	"github.com/tendapp/tend/internal/schema"
)

const (
	// coherenceBatchLimit bounds how many linked tasks one audit examines.
	coherenceBatchLimit = 10

	// misalignedThreshold is the alignment score below which a task is
	// flagged even when the model says it is aligned.
	misalignedThreshold = 0.4

	// coherenceWarningThreshold splits flagged tasks into warning (below)
	// and info (at or above).
	coherenceWarningThreshold = 0.3
)

// CoherenceJudgment is the reasoning verdict on one task-goal link.
type CoherenceJudgment struct {
	IsAligned      bool     `json:"isAligned"`
	AlignmentScore float64  `json:"alignmentScore"`
	Reasoning      string   `json:"reasoning"`
	Suggestions    []string `json:"suggestions"`
}

// runCoherenceAudit is layer 3: it asks the reasoning service whether linked
// tasks actually serve the goal chain they point into. It is entirely
// reasoning-dependent; when the service is unreachable the layer reports
// itself skipped rather than guessing.
//
// Tasks are audited most-deferred first, then newest first: repeatedly
// deferred tasks are the ones most likely to have drifted from their goal.
func (e *Engine) runCoherenceAudit(ctx context.Context) (schema.CoherenceResult, int, error) {
	res := schema.CoherenceResult{Ran: true}

	if e.reasoner == nil || !e.reasoner.Available(ctx) {
		return res, 0, nil
	}
	res.ReasoningAvailable = true

	tasks, err := e.store.ListAuditTasks(ctx, coherenceBatchLimit)
	if err != nil {
		return res, 0, err
	}

	inserted := 0
	for _, t := range tasks {
		chain, err := e.goalChain(ctx, t.WeeklyGoalID)
		if err != nil {
			return res, 0, err
		}
		if len(chain) == 0 {
			// Dangling link; layer 1 territory.
			continue
		}

		j, err := e.judgeCoherence(ctx, t, chain)
		if err != nil {
			e.logger.Printf("Coherence judgment failed for task %s, skipping: %v", t.ID, err)
			continue
		}

		if j.IsAligned && j.AlignmentScore >= misalignedThreshold {
			continue
		}

		severity := schema.SeverityInfo
		if j.AlignmentScore < coherenceWarningThreshold {
			severity = schema.SeverityWarning
		}

		suggestion := "Review whether this task still serves its goal"
		if len(j.Suggestions) > 0 {
			suggestion = strings.Join(j.Suggestions, "; ")
		}

		issue := &schema.SyncIssue{
			ID:               newIssueID(),
			Type:             schema.IssueMisalignedTask,
			Severity:         severity,
			EntityType:       schema.EntityTask,
			EntityID:         t.ID,
			EntityTitle:      t.Title,
			LinkedEntityType: schema.EntityGoal,
			LinkedEntityID:   t.WeeklyGoalID,
			Description:      fmt.Sprintf("Task %q scored %.2f alignment with goal %q: %s", t.Title, j.AlignmentScore, chain[0].Title, j.Reasoning),
			Suggestion:       suggestion,
			Confidence:       clampConfidence(1 - j.AlignmentScore),
			Layer:            3,
			DetectedAt:       time.Now(),
		}
		res.CoherenceIssues++
		isNew, err := e.store.InsertIssue(ctx, issue)
		if err != nil {
			return res, 0, err
		}
		if isNew {
			inserted++
		}
	}

	return res, inserted, nil
}

// AnalyzeTaskCoherence runs a one-off coherence judgment for a single linked
// task without writing to the ledger. Used for on-demand inspection.
func (e *Engine) AnalyzeTaskCoherence(ctx context.Context, taskID string) (*CoherenceJudgment, error) {
	if e.reasoner == nil || !e.reasoner.Available(ctx) {
		return nil, ErrReasoningUnavailable
	}

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.WeeklyGoalID == "" {
		return nil, fmt.Errorf("task %s has no goal link to audit", taskID)
	}

	chain, err := e.goalChain(ctx, t.WeeklyGoalID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("task %s links to goal %s, which no longer exists", taskID, t.WeeklyGoalID)
	}

	return e.judgeCoherence(ctx, t, chain)
}

// goalChain walks the goal hierarchy upward from goalID (weekly → monthly →
// yearly). A missing root goal yields an empty chain; a missing ancestor
// truncates the chain there.
func (e *Engine) goalChain(ctx context.Context, goalID string) ([]*schema.Goal, error) {
	var chain []*schema.Goal
	id := goalID
	for id != "" && len(chain) < 3 {
		g, err := e.store.GetGoal(ctx, id)
		if err != nil {
			if isNotFound(err) {
				break
			}
			return nil, err
		}
		chain = append(chain, g)
		id = g.ParentID
	}
	return chain, nil
}

func (e *Engine) judgeCoherence(ctx context.Context, t *schema.Task, chain []*schema.Goal) (*CoherenceJudgment, error) {
	out, err := e.reasoner.Generate(ctx, buildCoherencePrompt(t, chain))
	if err != nil {
		return nil, err
	}

	raw := reason.ExtractJSON(out)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in reasoning output")
	}

	var j CoherenceJudgment
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("malformed coherence judgment: %w", err)
	}
	j.AlignmentScore = clampConfidence(j.AlignmentScore)
	return &j, nil
}

func buildCoherencePrompt(t *schema.Task, chain []*schema.Goal) string {
	var b strings.Builder
	b.WriteString("You audit whether a task in a personal life-management app genuinely advances the goal it is linked to.\n\n")
	fmt.Fprintf(&b, "Task: %q\n", t.Title)
	if t.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", t.Notes)
	}
	if t.DeferCount > 0 {
		fmt.Fprintf(&b, "The user has deferred this task %d time(s).\n", t.DeferCount)
	}
	b.WriteString("\nGoal chain, most specific first:\n")
	for _, g := range chain {
		fmt.Fprintf(&b, "- %s goal: %q\n", g.Horizon, g.Title)
	}
	b.WriteString(`
Respond with exactly one JSON object and nothing else:
{"isAligned": <true|false>, "alignmentScore": <0.0-1.0>, "reasoning": "<one short sentence>", "suggestions": ["<optional concrete adjustments>"]}
`)
	return b.String()
}

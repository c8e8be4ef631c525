package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tendapp/tend/internal/reason"
	"github.com/tendapp/tend/internal/schema"
	"github.com/tendapp/tend/internal/store"
)

const (
	// connectionsBatchLimit bounds the number of unlinked items processed
	// per run so a single run stays fast.
	connectionsBatchLimit = 20

	// minSuggestConfidence is the floor below which no suggestion is
	// surfaced at all.
	minSuggestConfidence = 0.4

	// reasoningAcceptConfidence is the floor for accepting a reasoned
	// match; below it the rule-based fallback takes over.
	reasoningAcceptConfidence = 0.3

	// singleCandidateConfidence applies when exactly one active goal
	// shares the item's life aspect.
	singleCandidateConfidence = 0.6

	// fallbackAspectConfidence applies when several goals share the
	// aspect but none has any title-word overlap with the item.
	fallbackAspectConfidence = 0.4

	overlapBaseConfidence = 0.5
	overlapStepConfidence = 0.1
	overlapMaxConfidence  = 0.8
)

// connectionItem is an unlinked entity under consideration for a goal
// suggestion.
type connectionItem struct {
	entityType schema.EntityType
	id         string
	title      string
	aspect     string
	context    string // extra prompt context, e.g. task notes
}

// goalMatch is a candidate link with the confidence the matcher assigns it.
type goalMatch struct {
	goal       *schema.Goal
	confidence float64
	reasonText string
}

// runSmartConnections is layer 2: it proposes goal links for unlinked tasks,
// sessions, and meals. Matches come from the reasoning service when it is
// reachable, with a rule-based aspect/keyword fallback otherwise (or when a
// single reasoning call fails). Suggestions are advisory: they become info
// issues in the ledger and never mutate entities.
func (e *Engine) runSmartConnections(ctx context.Context) (schema.ConnectionsResult, int, error) {
	res := schema.ConnectionsResult{Ran: true}
	inserted := 0

	items, err := e.gatherUnlinked(ctx)
	if err != nil {
		return res, 0, err
	}
	if len(items) == 0 {
		return res, 0, nil
	}

	weeklyGoals, err := e.store.ListGoals(ctx, store.GoalFilter{Status: schema.GoalActive, Horizon: schema.HorizonWeekly})
	if err != nil {
		return res, 0, err
	}
	allGoals, err := e.store.ListGoals(ctx, store.GoalFilter{Status: schema.GoalActive})
	if err != nil {
		return res, 0, err
	}

	res.ReasoningAvailable = e.reasoner != nil && e.reasoner.Available(ctx)

	for _, item := range items {
		// Tasks link to weekly goals only; sessions and meals may link
		// to any active goal.
		candidates := allGoals
		if item.entityType == schema.EntityTask {
			candidates = weeklyGoals
		}
		if len(candidates) == 0 {
			continue
		}

		var match *goalMatch
		if res.ReasoningAvailable {
			match = e.reasonMatch(ctx, item, candidates)
		}
		if match == nil {
			match = ruleMatch(item, candidates)
		}
		if match == nil || match.confidence < minSuggestConfidence {
			continue
		}

		res.SuggestionsGenerated++
		issue := &schema.SyncIssue{
			ID:                 newIssueID(),
			Type:               schema.IssueUnlinkedItem,
			Severity:           schema.SeverityInfo,
			EntityType:         item.entityType,
			EntityID:           item.id,
			EntityTitle:        item.title,
			SuggestedGoalID:    match.goal.ID,
			SuggestedGoalTitle: match.goal.Title,
			Description:        fmt.Sprintf("%s %q is not linked to any goal", item.entityType, item.title),
			Suggestion:         fmt.Sprintf("Link to %q: %s", match.goal.Title, match.reasonText),
			Confidence:         match.confidence,
			Layer:              2,
			DetectedAt:         time.Now(),
		}
		res.IssuesFound++
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

// gatherUnlinked collects unlinked tasks, sessions, and meals, capped at the
// batch limit. Finance snapshots are excluded: they have no aspect and no
// meaningful title to match on.
func (e *Engine) gatherUnlinked(ctx context.Context) ([]connectionItem, error) {
	var items []connectionItem

	tasks, err := e.store.ListUnlinkedTasks(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		items = append(items, connectionItem{
			entityType: schema.EntityTask,
			id:         t.ID,
			title:      t.Title,
			aspect:     t.Aspect,
			context:    t.Notes,
		})
	}

	sessions, err := e.store.ListUnlinkedSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		items = append(items, connectionItem{
			entityType: schema.EntitySession,
			id:         sess.ID,
			title:      sess.Title,
			aspect:     sess.Aspect,
		})
	}

	meals, err := e.store.ListUnlinkedMeals(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range meals {
		items = append(items, connectionItem{
			entityType: schema.EntityMeal,
			id:         m.ID,
			title:      m.Title,
			aspect:     m.Aspect,
		})
	}

	if len(items) > connectionsBatchLimit {
		items = items[:connectionsBatchLimit]
	}
	return items, nil
}

// connectionJudgment is the JSON shape the reasoning prompt asks for.
// GoalNumber is a pointer so "no match" (null) is distinguishable from goal 0.
type connectionJudgment struct {
	GoalNumber *int    `json:"goalNumber"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// reasonMatch asks the reasoning service to pick the best goal for the item.
// Any failure (transport, malformed output, out-of-range goal number, or
// confidence below the accept floor) returns nil so the caller falls back to
// rules.
func (e *Engine) reasonMatch(ctx context.Context, item connectionItem, candidates []*schema.Goal) *goalMatch {
	out, err := e.reasoner.Generate(ctx, buildConnectionPrompt(item, candidates))
	if err != nil {
		e.logger.Printf("Reasoning failed for %s %s, falling back to rules: %v", item.entityType, item.id, err)
		return nil
	}

	raw := reason.ExtractJSON(out)
	if raw == "" {
		e.logger.Printf("No JSON in reasoning output for %s %s, falling back to rules", item.entityType, item.id)
		return nil
	}

	var j connectionJudgment
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		e.logger.Printf("Malformed reasoning output for %s %s, falling back to rules: %v", item.entityType, item.id, err)
		return nil
	}
	if j.GoalNumber == nil || *j.GoalNumber < 1 || *j.GoalNumber > len(candidates) {
		return nil
	}
	if j.Confidence < reasoningAcceptConfidence {
		return nil
	}

	reasonText := j.Reason
	if reasonText == "" {
		reasonText = "suggested by reasoning"
	}
	return &goalMatch{
		goal:       candidates[*j.GoalNumber-1],
		confidence: clampConfidence(j.Confidence),
		reasonText: reasonText,
	}
}

func buildConnectionPrompt(item connectionItem, candidates []*schema.Goal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You connect items in a personal life-management app to the goal they most plausibly serve.\n\n")
	fmt.Fprintf(&b, "Item (%s): %q\n", item.entityType, item.title)
	if item.aspect != "" {
		fmt.Fprintf(&b, "Life aspect: %s\n", item.aspect)
	}
	if item.context != "" {
		fmt.Fprintf(&b, "Notes: %s\n", item.context)
	}
	b.WriteString("\nGoals:\n")
	for i, g := range candidates {
		fmt.Fprintf(&b, "%d. %q", i+1, g.Title)
		if g.Aspect != "" {
			fmt.Fprintf(&b, " (aspect: %s)", g.Aspect)
		}
		b.WriteString("\n")
	}
	b.WriteString(`
Respond with exactly one JSON object and nothing else:
{"goalNumber": <number of the best goal, or null if none fits>, "confidence": <0.0-1.0>, "reason": "<one short sentence>"}
`)
	return b.String()
}

// ruleMatch is the deterministic fallback matcher. It only considers goals
// sharing the item's life aspect:
//   - exactly one same-aspect goal: match at 0.6
//   - several: pick the most title-word overlap, confidence scaled by the
//     overlap count and capped at 0.8
//   - several but no overlap anywhere: first same-aspect goal at 0.4
//
// Items with no aspect, or no same-aspect goal, get no suggestion.
func ruleMatch(item connectionItem, candidates []*schema.Goal) *goalMatch {
	if item.aspect == "" {
		return nil
	}

	var sameAspect []*schema.Goal
	for _, g := range candidates {
		if strings.EqualFold(g.Aspect, item.aspect) {
			sameAspect = append(sameAspect, g)
		}
	}
	if len(sameAspect) == 0 {
		return nil
	}

	if len(sameAspect) == 1 {
		return &goalMatch{
			goal:       sameAspect[0],
			confidence: singleCandidateConfidence,
			reasonText: fmt.Sprintf("only active %s goal", item.aspect),
		}
	}

	var best *schema.Goal
	bestScore := 0
	for _, g := range sameAspect {
		score := overlapScore(item.title, g.Title)
		if score > bestScore {
			best = g
			bestScore = score
		}
	}
	if best != nil {
		conf := overlapBaseConfidence + overlapStepConfidence*float64(bestScore)
		if conf > overlapMaxConfidence {
			conf = overlapMaxConfidence
		}
		return &goalMatch{
			goal:       best,
			confidence: conf,
			reasonText: fmt.Sprintf("shares the %s aspect and overlapping keywords", item.aspect),
		}
	}

	return &goalMatch{
		goal:       sameAspect[0],
		confidence: fallbackAspectConfidence,
		reasonText: fmt.Sprintf("shares the %s aspect", item.aspect),
	}
}

// overlapScore counts words of a (longer than 3 characters) that appear in b,
// case-insensitively.
func overlapScore(a, b string) int {
	bLower := strings.ToLower(b)
	score := 0
	for _, word := range strings.Fields(strings.ToLower(a)) {
		if len(word) > 3 && strings.Contains(bLower, word) {
			score++
		}
	}
	return score
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

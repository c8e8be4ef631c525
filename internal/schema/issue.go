package schema

import (
	"fmt"
	"time"
)

// IssueType classifies a detected inconsistency.
type IssueType string

const (
	// IssueOrphanedLink is a reference to a deleted entity (layer 1).
	IssueOrphanedLink IssueType = "orphaned_link"
	// IssueUnlinkedItem is an entity with no goal link that has a
	// suggested match (layer 2).
	IssueUnlinkedItem IssueType = "unlinked_item"
	// IssueMisalignedTask is a task whose goal link scored low on
	// semantic coherence (layer 3).
	IssueMisalignedTask IssueType = "misaligned_task"
)

// Severity grades an issue. Critical means a broken reference, warning means
// low coherence or an ambiguous suggestion, info means a low-confidence
// suggestion or minor note.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Resolution is the terminal state of a resolved issue.
type Resolution string

const (
	ResolutionLinked   Resolution = "linked"
	ResolutionUnlinked Resolution = "unlinked"
	ResolutionIgnored  Resolution = "ignored"
	ResolutionDeleted  Resolution = "deleted"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLinked, ResolutionUnlinked, ResolutionIgnored, ResolutionDeleted:
		return true
	}
	return false
}

// SyncIssue is a persisted, deduplicated finding from one of the three
// detection layers.
//
// Identity is stable per logical finding, not per run: re-running a layer
// never creates a duplicate unresolved issue for the same IdentityKey, and
// DetectedAt is never re-stamped on rediscovery. ResolvedAt/Resolution are
// owned exclusively by the issue ledger.
type SyncIssue struct {
	ID       string    `json:"id"`
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`

	EntityType  EntityType `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	EntityTitle string     `json:"entity_title,omitempty"`

	LinkedEntityType EntityType `json:"linked_entity_type,omitempty"`
	LinkedEntityID   string     `json:"linked_entity_id,omitempty"`

	SuggestedGoalID    string `json:"suggested_goal_id,omitempty"`
	SuggestedGoalTitle string `json:"suggested_goal_title,omitempty"`

	Description string  `json:"description"`
	Suggestion  string  `json:"suggestion,omitempty"`
	Confidence  float64 `json:"confidence"` // 0.0-1.0, certainty that something is wrong

	Layer      int        `json:"layer"` // 1, 2, or 3
	DetectedAt time.Time  `json:"detected_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Resolution Resolution `json:"resolution,omitempty"`
}

// IdentityKey returns the deterministic dedupe key for this issue within its
// layer. Layer 2 issues are keyed per entity (one suggestion per unlinked
// item); layers 1 and 3 are keyed per entity-link pair.
func (i *SyncIssue) IdentityKey() string {
	if i.Layer == 2 {
		return fmt.Sprintf("%s:%s", i.EntityType, i.EntityID)
	}
	return fmt.Sprintf("%s:%s:%s", i.EntityType, i.EntityID, i.LinkedEntityID)
}

// Resolved reports whether the issue has reached a terminal state.
func (i *SyncIssue) Resolved() bool {
	return i.ResolvedAt != nil
}

// Validate checks that the issue has valid field values.
func (i *SyncIssue) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch i.Type {
	case IssueOrphanedLink, IssueUnlinkedItem, IssueMisalignedTask:
	default:
		return fmt.Errorf("invalid issue type %q", i.Type)
	}
	switch i.Severity {
	case SeverityCritical, SeverityWarning, SeverityInfo:
	default:
		return fmt.Errorf("invalid severity %q", i.Severity)
	}
	if i.EntityType == "" || i.EntityID == "" {
		return fmt.Errorf("entity reference is required")
	}
	if i.Layer < 1 || i.Layer > 3 {
		return fmt.Errorf("layer must be 1-3 (got %d)", i.Layer)
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0,1] (got %g)", i.Confidence)
	}
	if i.DetectedAt.IsZero() {
		return fmt.Errorf("detected_at is required")
	}
	return nil
}

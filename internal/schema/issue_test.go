package schema

import (
	"testing"
	"time"
)

func validIssue() *SyncIssue {
	return &SyncIssue{
		ID:             "iss-1",
		Type:           IssueOrphanedLink,
		Severity:       SeverityCritical,
		EntityType:     EntityTask,
		EntityID:       "t-1",
		LinkedEntityID: "g-1",
		Description:    "task references deleted goal",
		Confidence:     1.0,
		Layer:          1,
		DetectedAt:     time.Now(),
	}
}

func TestSyncIssue_Validate(t *testing.T) {
	if err := validIssue().Validate(); err != nil {
		t.Fatalf("valid issue failed validation: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*SyncIssue)
	}{
		{"missing id", func(i *SyncIssue) { i.ID = "" }},
		{"bad type", func(i *SyncIssue) { i.Type = "bogus" }},
		{"bad severity", func(i *SyncIssue) { i.Severity = "fatal" }},
		{"missing entity", func(i *SyncIssue) { i.EntityID = "" }},
		{"layer zero", func(i *SyncIssue) { i.Layer = 0 }},
		{"layer four", func(i *SyncIssue) { i.Layer = 4 }},
		{"confidence above one", func(i *SyncIssue) { i.Confidence = 1.5 }},
		{"confidence negative", func(i *SyncIssue) { i.Confidence = -0.1 }},
		{"zero detected_at", func(i *SyncIssue) { i.DetectedAt = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := validIssue()
			tt.mutate(issue)
			if err := issue.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestSyncIssue_IdentityKey(t *testing.T) {
	tests := []struct {
		name  string
		issue SyncIssue
		want  string
	}{
		{
			name:  "layer 1 includes link",
			issue: SyncIssue{Layer: 1, EntityType: EntityTask, EntityID: "t-1", LinkedEntityID: "g-1"},
			want:  "task:t-1:g-1",
		},
		{
			name:  "layer 2 keyed per entity",
			issue: SyncIssue{Layer: 2, EntityType: EntitySession, EntityID: "s-9", SuggestedGoalID: "g-3"},
			want:  "session:s-9",
		},
		{
			name:  "layer 3 includes link",
			issue: SyncIssue{Layer: 3, EntityType: EntityTask, EntityID: "t-2", LinkedEntityID: "g-2"},
			want:  "task:t-2:g-2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.issue.IdentityKey(); got != tt.want {
				t.Errorf("IdentityKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolution_Valid(t *testing.T) {
	for _, r := range []Resolution{ResolutionLinked, ResolutionUnlinked, ResolutionIgnored, ResolutionDeleted} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if Resolution("merged").Valid() {
		t.Error("unknown resolution should not be valid")
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
	if !s.Layer1Enabled || !s.Layer2Enabled || !s.Layer3Enabled {
		t.Error("all layers should be enabled by default")
	}
	if s.BackgroundInterval != 30*time.Minute {
		t.Errorf("BackgroundInterval = %v, want 30m", s.BackgroundInterval)
	}
	if s.RealtimeDebounce != 2*time.Second {
		t.Errorf("RealtimeDebounce = %v, want 2s", s.RealtimeDebounce)
	}
}

func TestGoal_Validate(t *testing.T) {
	goal := &Goal{ID: "g-1", Title: "Run 3x/week", Horizon: HorizonWeekly, Status: GoalActive}
	if err := goal.Validate(); err != nil {
		t.Fatalf("valid goal failed validation: %v", err)
	}

	yearly := &Goal{ID: "g-2", Title: "Get fit", Horizon: HorizonYearly, Status: GoalActive, ParentID: "g-0"}
	if err := yearly.Validate(); err == nil {
		t.Error("yearly goal with parent should fail validation")
	}

	bad := &Goal{ID: "g-3", Title: "Quarterly", Horizon: "quarterly", Status: GoalActive}
	if err := bad.Validate(); err == nil {
		t.Error("unknown horizon should fail validation")
	}
}

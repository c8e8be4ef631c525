package schema

import "time"

// RunType records what triggered a sync run.
type RunType string

const (
	RunManual     RunType = "manual"
	RunBackground RunType = "background"
	RunRealtime   RunType = "realtime"
)

// IntegrityResult summarizes one layer-1 pass.
type IntegrityResult struct {
	Ran         bool `json:"ran"`
	IssuesFound int  `json:"issues_found"`
	IssuesFixed int  `json:"issues_fixed"`
}

// ConnectionsResult summarizes one layer-2 pass.
type ConnectionsResult struct {
	Ran                  bool `json:"ran"`
	ReasoningAvailable   bool `json:"reasoning_available"`
	SuggestionsGenerated int  `json:"suggestions_generated"`
	IssuesFound          int  `json:"issues_found"`
}

// CoherenceResult summarizes one layer-3 pass.
type CoherenceResult struct {
	Ran                bool `json:"ran"`
	ReasoningAvailable bool `json:"reasoning_available"`
	CoherenceIssues    int  `json:"coherence_issues"`
}

// SyncRunResult is a summary of one orchestration pass. Only fully completed
// runs are recorded; an aborted run is never persisted.
type SyncRunResult struct {
	ID          string        `json:"id"`
	RunType     RunType       `json:"run_type"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`

	Layer1 IntegrityResult   `json:"layer1"`
	Layer2 ConnectionsResult `json:"layer2"`
	Layer3 CoherenceResult   `json:"layer3"`

	TotalIssues    int `json:"total_issues"`    // unresolved issues after the run
	NewIssues      int `json:"new_issues"`      // issues first detected by this run
	ResolvedIssues int `json:"resolved_issues"` // auto-fixes applied by layer 1
}

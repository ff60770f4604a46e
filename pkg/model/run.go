// pkg/model/run.go
package model

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusPartial, RunStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving from s to
// next. Terminal states never transition.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunStatusPending:
		return next == RunStatusRunning
	case RunStatusRunning:
		return next.IsTerminal()
	}
	return false
}

// RunCounts summarizes record-level outcomes of a run.
type RunCounts struct {
	Processed int
	Inserted  int
	Updated   int
	Failed    int
	Flagged   int
}

// PipelineRun is one execution attempt. Status and duration fields are the
// only fields mutated after creation, and only until the terminal
// transition.
type PipelineRun struct {
	RunID   string
	BatchID string
	Status  RunStatus

	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration

	Counts RunCounts
}

// QualityCheck is one rule evaluation attached to a run.
type QualityCheck struct {
	RunID     string
	Rule      string
	Passed    bool
	Detail    map[string]any
	CheckedAt time.Time
}

package workflow

import (
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/id"
)

// RunState represents the lifecycle state of a workflow run.
type RunState string

const (
	// RunStateRunning means the workflow is currently executing.
	RunStateRunning RunState = "running"
	// RunStateCompleted means the workflow finished successfully.
	RunStateCompleted RunState = "completed"
	// RunStateFailed means the workflow failed terminally.
	RunStateFailed RunState = "failed"
	// RunStateTerminated means the workflow was cancelled by an operator
	// before it could finish.
	RunStateTerminated RunState = "terminated"
)

// Terminal reports whether a state admits no further transitions.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed || s == RunStateTerminated
}

// Run represents a single execution of a workflow.
type Run struct {
	calshift.Entity

	ID          id.RunID   `json:"id"`
	Name        string     `json:"name"`
	State       RunState   `json:"state"`
	Version     int        `json:"version"`
	Input       []byte     `json:"input,omitempty"`
	Output      []byte     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	ParentRunID *id.RunID  `json:"parent_run_id,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

package workflow

import (
	"context"

	"github.com/calshift/calshift/id"
)

// ListOpts controls pagination and filtering for run listings.
type ListOpts struct {
	// Limit caps the number of runs returned. Zero means no cap.
	Limit int
	// Offset skips the first N runs, newest first.
	Offset int
	// State restricts the listing to one run state. Empty means all.
	State RunState
	// Name restricts the listing to one workflow name. Empty means all.
	Name string
}

// Store is the persistence contract for the orchestrator runtime: runs,
// their memoized step checkpoints, and the append-only history log. A
// run's checkpoints are what make replay deterministic, so checkpoint
// ordering must be stable across restarts.
type Store interface {
	// CreateRun persists a new run. A duplicate ID returns
	// ErrRunAlreadyExists.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun fetches a run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing run.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns runs matching opts.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// SaveCheckpoint memoizes a step result. Saving the same run/step
	// again replaces the data but keeps the checkpoint's position in
	// creation order.
	SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error

	// GetCheckpoint returns a step's memoized data. A missing checkpoint
	// yields nil data; a present checkpoint always yields non-nil data,
	// even when the step saved an empty result.
	GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error)

	// ListCheckpoints returns a run's checkpoints in creation order.
	ListCheckpoints(ctx context.Context, runID id.RunID) ([]*Checkpoint, error)

	// ListChildRuns returns the sub-orchestration runs spawned by a
	// parent.
	ListChildRuns(ctx context.Context, parentRunID id.RunID) ([]*Run, error)

	// DeleteCheckpointsAfter removes every checkpoint created after the
	// named step, rewinding the run for replay. The named step's own
	// checkpoint survives.
	DeleteCheckpointsAfter(ctx context.Context, runID id.RunID, afterStep string) error

	// AppendHistory appends one audit event to a run's history. History
	// is append-only; events are never updated or deleted.
	AppendHistory(ctx context.Context, evt *HistoryEvent) error

	// ListHistory returns a run's history in append order.
	ListHistory(ctx context.Context, runID id.RunID) ([]*HistoryEvent, error)
}

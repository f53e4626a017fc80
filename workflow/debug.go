package workflow

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/calshift/calshift/id"
)

// TimelineEntry is one completed step in a run's execution, in the order
// the checkpoints were written. Operators use the timeline to see how far
// a migration instance got and what each step produced.
type TimelineEntry struct {
	StepName  string    `json:"step_name"`
	Data      []byte    `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GetTimeline returns the chronological step timeline of a run, one entry
// per checkpoint.
func (r *Runner) GetTimeline(ctx context.Context, runID id.RunID) ([]TimelineEntry, error) {
	checkpoints, err := r.store.ListCheckpoints(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for run %s: %w", runID, err)
	}

	// Checkpoint IDs are K-sortable; they break ties between identical
	// timestamps.
	slices.SortStableFunc(checkpoints, func(a, b *Checkpoint) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})

	entries := make([]TimelineEntry, 0, len(checkpoints))
	for _, cp := range checkpoints {
		entries = append(entries, TimelineEntry{
			StepName:  cp.StepName,
			Data:      cp.Data,
			CreatedAt: cp.CreatedAt,
		})
	}
	return entries, nil
}

// requireCheckpoint loads one step's memoized result, treating a missing
// checkpoint as an error.
func (r *Runner) requireCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	data, err := r.store.GetCheckpoint(ctx, runID, stepName)
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %q for run %s: %w", stepName, runID, err)
	}
	if data == nil {
		return nil, fmt.Errorf("run %s has no checkpoint %q", runID, stepName)
	}
	return data, nil
}

// InspectStep returns the raw memoized result of one step of a run, or an
// error if the step never checkpointed.
func (r *Runner) InspectStep(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	return r.requireCheckpoint(ctx, runID, stepName)
}

// ReplayFrom rewinds a run to just after fromStep and re-executes it.
// Checkpoints up to and including fromStep survive, so replay skips those
// steps; everything later is discarded and runs again with fresh state.
// Useful when a downstream collaborator failure corrupted the tail of a
// migration instance.
func (r *Runner) ReplayFrom(ctx context.Context, runID id.RunID, fromStep string) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}

	if _, err := r.requireCheckpoint(ctx, runID, fromStep); err != nil {
		return err
	}

	if err := r.store.DeleteCheckpointsAfter(ctx, runID, fromStep); err != nil {
		return fmt.Errorf("delete checkpoints after %q for run %s: %w", fromStep, runID, err)
	}

	run.State = RunStateRunning
	run.Error = ""
	run.CompletedAt = nil
	if err := r.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("reset run %s to running: %w", runID, err)
	}

	runner, ok := r.registry.Get(run.Name)
	if !ok {
		return fmt.Errorf("no workflow registered for %q (run %s)", run.Name, runID)
	}

	r.appendHistory(ctx, run, HistoryOrchestratorStarted, run.Name, nil)
	r.emitter.EmitWorkflowStarted(ctx, run)
	r.executeRun(ctx, run, runner, run.Input)
	return nil
}

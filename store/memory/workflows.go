package memory

import (
	"context"
	"strings"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/workflow"
)

// CreateRun persists a new workflow run.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return calshift.ErrRunAlreadyExists
	}
	m.runs[key] = clone(run)
	return nil
}

// GetRun retrieves a workflow run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, err := fetch(m.runs, runID.String(), calshift.ErrRunNotFound)
	if err != nil {
		return nil, err
	}
	return clone(r), nil
}

// UpdateRun replaces a stored run and stamps UpdatedAt.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := run.ID.String()
	if _, err := fetch(m.runs, key, calshift.ErrRunNotFound); err != nil {
		return err
	}
	cp := clone(run)
	cp.UpdatedAt = time.Now().UTC()
	m.runs[key] = cp
	return nil
}

// ListRuns returns workflow runs matching the filters, oldest first.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*workflow.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.Name != "" && r.Name != opts.Name {
			continue
		}
		out = append(out, clone(r))
	}

	sortByTime(out, func(r *workflow.Run) time.Time { return r.CreatedAt })
	return page(out, opts.Offset, opts.Limit), nil
}

// ListChildRuns returns the child runs spawned by a parent, oldest first.
func (m *Store) ListChildRuns(_ context.Context, parentRunID id.RunID) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*workflow.Run
	for _, r := range m.runs {
		if r.ParentRunID == nil || *r.ParentRunID != parentRunID {
			continue
		}
		out = append(out, clone(r))
	}

	sortByTime(out, func(r *workflow.Run) time.Time { return r.CreatedAt })
	return out, nil
}

func checkpointKey(runID id.RunID, stepName string) string {
	return runID.String() + ":" + stepName
}

// ownedBy reports whether a checkpoint map key belongs to the run.
func ownedBy(key string, runID id.RunID) bool {
	return strings.HasPrefix(key, runID.String()+":")
}

// SaveCheckpoint records the outcome of a completed step. A re-save of the
// same step (after a replay reset) gets a fresh checkpoint row.
func (m *Store) SaveCheckpoint(_ context.Context, runID id.RunID, stepName string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[checkpointKey(runID, stepName)] = &workflow.Checkpoint{
		ID:        id.NewCheckpointID(),
		RunID:     runID,
		StepName:  stepName,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// GetCheckpoint returns the saved data for a step, or nil, nil when the step
// has not completed yet. The runner keys its skip-on-resume decision on that
// nil.
func (m *Store) GetCheckpoint(_ context.Context, runID id.RunID, stepName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[checkpointKey(runID, stepName)]
	if !ok {
		return nil, nil
	}
	return cp.Data, nil
}

// ListCheckpoints returns a run's checkpoints in creation order.
func (m *Store) ListCheckpoints(_ context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*workflow.Checkpoint
	for k, cp := range m.checkpoints {
		if ownedBy(k, runID) {
			out = append(out, clone(cp))
		}
	}

	sortByTime(out, func(c *workflow.Checkpoint) time.Time { return c.CreatedAt })
	return out, nil
}

// DeleteCheckpointsAfter drops every checkpoint created after the named
// step's own checkpoint, preparing the run for replay from that point. An
// unknown anchor leaves the run untouched.
func (m *Store) DeleteCheckpointsAfter(_ context.Context, runID id.RunID, afterStep string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	anchor, ok := m.checkpoints[checkpointKey(runID, afterStep)]
	if !ok {
		return nil
	}

	for k, cp := range m.checkpoints {
		if ownedBy(k, runID) && cp.CreatedAt.After(anchor.CreatedAt) {
			delete(m.checkpoints, k)
		}
	}
	return nil
}

// AppendHistory adds one event to a run's execution history.
func (m *Store) AppendHistory(_ context.Context, evt *workflow.HistoryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := evt.RunID.String()
	m.history[key] = append(m.history[key], clone(evt))
	return nil
}

// ListHistory returns a run's history in append order.
func (m *Store) ListHistory(_ context.Context, runID id.RunID) ([]*workflow.HistoryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.history[runID.String()]
	out := make([]*workflow.HistoryEvent, len(events))
	for i, evt := range events {
		out[i] = clone(evt)
	}
	return out, nil
}

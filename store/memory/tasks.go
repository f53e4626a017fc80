package memory

import (
	"context"
	"sort"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
)

// EnqueueTask persists a new task in pending state.
func (m *Store) EnqueueTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := t.ID.String()
	if _, exists := m.tasks[key]; exists {
		return calshift.ErrTaskAlreadyExists
	}
	m.tasks[key] = clone(t)
	return nil
}

// dequeueable reports whether t is due and matches the queue filter.
func dequeueable(t *task.Task, queueSet map[string]struct{}, now time.Time) bool {
	if t.State != task.StatePending && t.State != task.StateRetrying {
		return false
	}
	if !t.RunAt.IsZero() && t.RunAt.After(now) {
		return false
	}
	if len(queueSet) > 0 {
		if _, ok := queueSet[t.Queue]; !ok {
			return false
		}
	}
	return true
}

// DequeueTasks claims up to limit due tasks from the given queues under the
// store lock, flips them to running, and returns them. With the whole claim
// inside one critical section two pools can never grab the same task.
func (m *Store) DequeueTasks(_ context.Context, queues []string, limit int) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()

	candidates := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if dequeueable(t, queueSet, now) {
			candidates = append(candidates, t)
		}
	}

	// Highest priority first; within a priority, the longest-due task wins.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]*task.Task, len(candidates))
	for i, t := range candidates {
		t.State = task.StateRunning
		startedAt := now
		t.StartedAt = &startedAt
		claimed[i] = clone(t)
	}

	return claimed, nil
}

// GetTask retrieves a task by ID.
func (m *Store) GetTask(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := fetch(m.tasks, taskID.String(), calshift.ErrTaskNotFound)
	if err != nil {
		return nil, err
	}
	return clone(t), nil
}

// UpdateTask replaces a stored task and stamps UpdatedAt.
func (m *Store) UpdateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := t.ID.String()
	if _, err := fetch(m.tasks, key, calshift.ErrTaskNotFound); err != nil {
		return err
	}
	cp := clone(t)
	cp.UpdatedAt = time.Now().UTC()
	m.tasks[key] = cp
	return nil
}

// DeleteTask removes a task by ID.
func (m *Store) DeleteTask(_ context.Context, taskID id.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return remove(m.tasks, taskID.String(), calshift.ErrTaskNotFound)
}

// ListTasksByState returns tasks in the given state, oldest first.
func (m *Store) ListTasksByState(_ context.Context, state task.State, opts task.ListOpts) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.State != state {
			continue
		}
		if opts.Queue != "" && t.Queue != opts.Queue {
			continue
		}
		out = append(out, clone(t))
	}

	sortByTime(out, func(t *task.Task) time.Time { return t.CreatedAt })
	return page(out, opts.Offset, opts.Limit), nil
}

// HeartbeatTask stamps a running task's heartbeat so the reaper leaves it be.
func (m *Store) HeartbeatTask(_ context.Context, taskID id.TaskID, _ id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := fetch(m.tasks, taskID.String(), calshift.ErrTaskNotFound)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	t.HeartbeatAt = &now
	return nil
}

// ReapStaleTasks returns running tasks whose heartbeat is older than
// threshold. A running task that never heartbeated is not reported; its
// worker may still be warming up.
func (m *Store) ReapStaleTasks(_ context.Context, threshold time.Duration) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*task.Task
	for _, t := range m.tasks {
		if t.State != task.StateRunning {
			continue
		}
		if t.HeartbeatAt != nil && t.HeartbeatAt.Before(cutoff) {
			stale = append(stale, clone(t))
		}
	}
	return stale, nil
}

// CountTasks counts tasks matching the given queue and state filters.
func (m *Store) CountTasks(_ context.Context, opts task.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, t := range m.tasks {
		if opts.Queue != "" && t.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && t.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

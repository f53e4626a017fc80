package dlq

import (
	"context"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
)

// Replay reissues a buried entry as a brand-new pending task: fresh ID,
// retry count back to zero, scheduled to run immediately. The entry is
// then stamped as replayed.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*task.Task, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	t := reissue(entry, time.Now().UTC())
	if err := s.taskStore.EnqueueTask(ctx, t); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The task is already in flight; surface the stamping
		// failure without losing it.
		return t, err
	}
	return t, nil
}

// reissue builds the replacement task for a buried entry. Only the
// name, queue, payload, and retry budget carry over.
func reissue(entry *Entry, now time.Time) *task.Task {
	return &task.Task{
		Entity:     calshift.NewEntity(),
		ID:         id.NewTaskID(),
		Name:       entry.TaskName,
		Queue:      entry.Queue,
		Payload:    entry.Payload,
		State:      task.StatePending,
		MaxRetries: entry.MaxRetries,
		RunAt:      now,
	}
}

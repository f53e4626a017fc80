package memory

import (
	"context"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/dlq"
	"github.com/calshift/calshift/id"
)

// PushDLQ records a task that exhausted its retries.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlqs[entry.ID.String()] = clone(entry)
	return nil
}

// ListDLQ returns dead-letter entries, oldest failure first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		out = append(out, clone(e))
	}

	sortByTime(out, func(e *dlq.Entry) time.Time { return e.FailedAt })
	return page(out, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves a dead-letter entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := fetch(m.dlqs, entryID.String(), calshift.ErrDLQNotFound)
	if err != nil {
		return nil, err
	}
	return clone(e), nil
}

// ReplayDLQ stamps an entry as replayed. Building and enqueueing the fresh
// task is the replay service's job.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := fetch(m.dlqs, entryID.String(), calshift.ErrDLQNotFound)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ deletes entries that failed before the given time and reports
// how many were removed.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the number of dead-letter entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.dlqs)), nil
}

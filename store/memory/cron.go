package memory

import (
	"context"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/cron"
	"github.com/calshift/calshift/id"
)

// RegisterCron persists a new cron entry. Names are unique across entries.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.crons {
		if e.Name == entry.Name {
			return calshift.ErrDuplicateCron
		}
	}

	m.crons[entry.ID.String()] = clone(entry)
	return nil
}

// GetCron retrieves a cron entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.CronID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := fetch(m.crons, entryID.String(), calshift.ErrCronNotFound)
	if err != nil {
		return nil, err
	}
	return clone(e), nil
}

// ListCrons returns all cron entries, oldest first.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		out = append(out, clone(e))
	}

	sortByTime(out, func(e *cron.Entry) time.Time { return e.CreatedAt })
	return out, nil
}

// AcquireCronLock takes the per-entry firing lock for ttl. The current
// holder may re-acquire before expiry; anyone may take over an expired lock.
func (m *Store) AcquireCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := fetch(m.crons, entryID.String(), calshift.ErrCronNotFound)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	held := e.LockedBy != "" && e.LockedUntil != nil && e.LockedUntil.After(now)
	if held && e.LockedBy != workerID.String() {
		return false, nil
	}

	e.LockedBy = workerID.String()
	until := now.Add(ttl)
	e.LockedUntil = &until
	return true, nil
}

// ReleaseCronLock clears the firing lock. Releasing a lock held by another
// worker is a no-op rather than an error.
func (m *Store) ReleaseCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := fetch(m.crons, entryID.String(), calshift.ErrCronNotFound)
	if err != nil {
		return err
	}

	if e.LockedBy == workerID.String() {
		e.LockedBy = ""
		e.LockedUntil = nil
	}
	return nil
}

// UpdateCronLastRun records when an entry last fired.
func (m *Store) UpdateCronLastRun(_ context.Context, entryID id.CronID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := fetch(m.crons, entryID.String(), calshift.ErrCronNotFound)
	if err != nil {
		return err
	}
	e.LastRunAt = &at
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateCronEntry replaces an entry's schedule fields. The lock columns
// belong to Acquire/ReleaseCronLock and are preserved from the stored copy.
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entry.ID.String()
	existing, err := fetch(m.crons, key, calshift.ErrCronNotFound)
	if err != nil {
		return err
	}
	cp := clone(entry)
	cp.UpdatedAt = time.Now().UTC()
	cp.LockedBy = existing.LockedBy
	cp.LockedUntil = existing.LockedUntil
	m.crons[key] = cp
	return nil
}

// DeleteCron removes a cron entry by ID.
func (m *Store) DeleteCron(_ context.Context, entryID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return remove(m.crons, entryID.String(), calshift.ErrCronNotFound)
}

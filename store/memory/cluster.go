package memory

import (
	"context"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/cluster"
	"github.com/calshift/calshift/id"
)

// RegisterWorker adds a worker to the cluster registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.ID.String()] = clone(w)
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return remove(m.workers, workerID.String(), calshift.ErrWorkerNotFound)
}

// HeartbeatWorker stamps a worker's last-seen time.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := fetch(m.workers, workerID.String(), calshift.ErrWorkerNotFound)
	if err != nil {
		return err
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, clone(w))
	}

	sortByTime(out, func(w *cluster.Worker) time.Time { return w.CreatedAt })
	return out, nil
}

// ReapDeadWorkers reports workers whose last-seen time is older than
// threshold. They stay registered; deciding what to do with them is the
// caller's business.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range m.workers {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, clone(w))
		}
	}
	return dead, nil
}

// AcquireLeadership tries to take the cluster leader lease for ttl. The
// incumbent may re-acquire; a non-incumbent only wins a vacant or expired
// lease.
func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	self := workerID.String()

	if m.leader != "" && m.leaderUntil.After(now) && m.leader != self {
		return false, nil
	}

	m.leader = self
	m.leaderUntil = now.Add(ttl)
	m.stampLeader(self)
	return true, nil
}

// RenewLeadership extends the lease, but only for the current leader.
func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	self := workerID.String()
	if m.leader != self {
		return false, nil
	}

	m.leaderUntil = time.Now().UTC().Add(ttl)
	m.stampLeader(self)
	return true, nil
}

// stampLeader mirrors the lease onto the worker record, when registered.
// Callers hold the lock.
func (m *Store) stampLeader(self string) {
	w, ok := m.workers[self]
	if !ok {
		return
	}
	w.IsLeader = true
	until := m.leaderUntil
	w.LeaderUntil = &until
}

// GetLeader returns the current leader, or nil, nil when the lease is
// vacant or expired.
func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.leader == "" || m.leaderUntil.Before(time.Now().UTC()) {
		return nil, nil
	}

	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	return clone(w), nil
}

package cluster

import (
	"context"
	"time"

	"github.com/calshift/calshift/id"
)

// Store is the persistence contract for worker membership and leadership.
// Membership drives the stale-task reaper; leadership gates singleton
// duties like the cron scheduler.
type Store interface {
	// RegisterWorker adds a worker to the registry. Re-registering an
	// existing ID refreshes its record.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes a worker from the registry.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker bumps a worker's last-seen timestamp.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error

	// ListWorkers returns every registered worker.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ReapDeadWorkers returns workers not seen within threshold. They are
	// reported, not removed; the caller decides what to reassign.
	ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*Worker, error)

	// AcquireLeadership claims cluster leadership until ttl elapses.
	// Returns true if workerID is now (or already was) the leader.
	AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the current leader's term. Returns false
	// when workerID is not the leader.
	RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// GetLeader returns the current leader, or nil, nil when there is
	// none.
	GetLeader(ctx context.Context) (*Worker, error)
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/cluster"
	"github.com/calshift/calshift/id"
)

const workerColumns = `id, hostname, queues, concurrency, state,
	is_leader, leader_until, last_seen, created_at`

// RegisterWorker adds a new worker to the cluster registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	queues, err := json.Marshal(w.Queues)
	if err != nil {
		return fmt.Errorf("calshift/postgres: marshal queues: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO calshift_workers (
			id, hostname, queues, concurrency, state,
			is_leader, leader_until, last_seen, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id)
		DO UPDATE SET hostname = EXCLUDED.hostname,
		              queues = EXCLUDED.queues,
		              concurrency = EXCLUDED.concurrency,
		              state = EXCLUDED.state,
		              last_seen = EXCLUDED.last_seen`,
		w.ID.String(), w.Hostname, queues, w.Concurrency, string(w.State),
		w.IsLeader, w.LeaderUntil, w.LastSeen, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM calshift_workers WHERE id = $1`, workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: deregister worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calshift.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calshift_workers SET last_seen = NOW() WHERE id = $1`,
		workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: heartbeat worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calshift.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+workerColumns+` FROM calshift_workers ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: list workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older
// than the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	rows, err := s.pool.Query(ctx,
		`SELECT `+workerColumns+` FROM calshift_workers WHERE last_seen < $1`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: reap dead workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// AcquireLeadership attempts to become the cluster leader. Leadership is
// a TTL row claim: an expired leader's claim is cleared, then a single
// conditional UPDATE claims it when no other active leader exists.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	// Clear any expired leader claim.
	_, err := s.pool.Exec(ctx, `
		UPDATE calshift_workers
		SET is_leader = FALSE, leader_until = NULL
		WHERE is_leader = TRUE AND leader_until < NOW()`)
	if err != nil {
		return false, fmt.Errorf("calshift/postgres: clear expired leader: %w", err)
	}

	// Check for an active leader that is not us.
	var activeLeader bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM calshift_workers
			WHERE is_leader = TRUE AND leader_until >= NOW() AND id <> $1
		)`,
		workerID.String(),
	).Scan(&activeLeader)
	if err != nil {
		return false, fmt.Errorf("calshift/postgres: check active leader: %w", err)
	}
	if activeLeader {
		return false, nil
	}

	// Claim (or reclaim) leadership.
	tag, err := s.pool.Exec(ctx, `
		UPDATE calshift_workers
		SET is_leader = TRUE, leader_until = $2
		WHERE id = $1`,
		workerID.String(), until,
	)
	if err != nil {
		return false, fmt.Errorf("calshift/postgres: claim leadership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RenewLeadership extends the leader's hold. Returns false if this
// worker is not the current leader.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	tag, err := s.pool.Exec(ctx, `
		UPDATE calshift_workers
		SET leader_until = $2
		WHERE id = $1 AND is_leader = TRUE`,
		workerID.String(), until,
	)
	if err != nil {
		return false, fmt.Errorf("calshift/postgres: renew leadership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetLeader returns the current cluster leader, or nil if there is none.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+workerColumns+` FROM calshift_workers
		WHERE is_leader = TRUE AND leader_until >= NOW()
		LIMIT 1`)

	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("calshift/postgres: get leader: %w", err)
	}
	return w, nil
}

// scanWorker scans a single worker row.
func scanWorker(row pgx.Row) (*cluster.Worker, error) {
	var (
		w      cluster.Worker
		idStr  string
		queues []byte
	)

	err := row.Scan(
		&idStr, &w.Hostname, &queues, &w.Concurrency, &w.State,
		&w.IsLeader, &w.LeaderUntil, &w.LastSeen, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.ID, err = id.ParseWorkerID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse worker id: %w", err)
	}
	if len(queues) > 0 {
		if err := json.Unmarshal(queues, &w.Queues); err != nil {
			return nil, fmt.Errorf("unmarshal queues: %w", err)
		}
	}

	return &w, nil
}

// collectWorkers scans all remaining worker rows.
func collectWorkers(rows pgx.Rows) ([]*cluster.Worker, error) {
	var workers []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("calshift/postgres: scan worker: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/postgres: iterate workers: %w", err)
	}
	return workers, nil
}

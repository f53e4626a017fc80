package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

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
		return fmt.Errorf("calshift/sqlite: marshal queues: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calshift_workers (
			id, hostname, queues, concurrency, state,
			is_leader, leader_until, last_seen, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET hostname = excluded.hostname,
		              queues = excluded.queues,
		              concurrency = excluded.concurrency,
		              state = excluded.state,
		              last_seen = excluded.last_seen`,
		w.ID.String(), w.Hostname, string(queues), w.Concurrency,
		string(w.State), w.IsLeader, w.LeaderUntil, w.LastSeen, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM calshift_workers WHERE id = ?`, workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: deregister worker: %w", err)
	}
	return rowsAffectedOr(res, calshift.ErrWorkerNotFound)
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calshift_workers SET last_seen = ? WHERE id = ?`,
		time.Now().UTC(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: heartbeat worker: %w", err)
	}
	return rowsAffectedOr(res, calshift.ErrWorkerNotFound)
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM calshift_workers ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/sqlite: list workers: %w", err)
	}
	defer rows.Close()

	var workers []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("calshift/sqlite: scan worker: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/sqlite: iterate workers: %w", err)
	}
	return workers, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older
// than the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM calshift_workers WHERE last_seen < ?`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/sqlite: reap dead workers: %w", err)
	}
	defer rows.Close()

	var dead []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("calshift/sqlite: scan worker: %w", err)
		}
		dead = append(dead, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/sqlite: iterate workers: %w", err)
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader via a TTL
// row claim.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	until := now.Add(ttl)

	// Clear any expired leader claim.
	_, err := s.db.ExecContext(ctx, `
		UPDATE calshift_workers
		SET is_leader = 0, leader_until = NULL
		WHERE is_leader = 1 AND leader_until < ?`,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("calshift/sqlite: clear expired leader: %w", err)
	}

	// Check for an active leader that is not us.
	var activeLeader bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM calshift_workers
			WHERE is_leader = 1 AND leader_until >= ? AND id != ?
		)`,
		now, workerID.String(),
	).Scan(&activeLeader)
	if err != nil {
		return false, fmt.Errorf("calshift/sqlite: check active leader: %w", err)
	}
	if activeLeader {
		return false, nil
	}

	// Claim (or reclaim) leadership.
	res, err := s.db.ExecContext(ctx, `
		UPDATE calshift_workers
		SET is_leader = 1, leader_until = ?
		WHERE id = ?`,
		until, workerID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("calshift/sqlite: claim leadership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("calshift/sqlite: claim leadership: %w", err)
	}
	return n > 0, nil
}

// RenewLeadership extends the leader's hold. Returns false if this
// worker is not the current leader.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	res, err := s.db.ExecContext(ctx, `
		UPDATE calshift_workers
		SET leader_until = ?
		WHERE id = ? AND is_leader = 1`,
		until, workerID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("calshift/sqlite: renew leadership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("calshift/sqlite: renew leadership: %w", err)
	}
	return n > 0, nil
}

// GetLeader returns the current cluster leader, or nil if there is none.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+workerColumns+` FROM calshift_workers
		WHERE is_leader = 1 AND leader_until >= ?
		LIMIT 1`,
		time.Now().UTC(),
	)

	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("calshift/sqlite: get leader: %w", err)
	}
	return w, nil
}

// scanWorker scans a single worker row.
func scanWorker(row rowScanner) (*cluster.Worker, error) {
	var (
		w      cluster.Worker
		idStr  string
		queues string
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
	if queues != "" {
		if err := json.Unmarshal([]byte(queues), &w.Queues); err != nil {
			return nil, fmt.Errorf("unmarshal queues: %w", err)
		}
	}

	return &w, nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
)

const taskColumns = `id, name, queue, payload, state, priority, max_retries,
	retry_count, last_error, worker_id, run_at, started_at, completed_at,
	heartbeat_at, timeout_ns, created_at, updated_at`

// EnqueueTask persists a new task in pending state.
func (s *Store) EnqueueTask(ctx context.Context, t *task.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calshift_tasks (
			id, name, queue, payload, state, priority, max_retries,
			retry_count, last_error, worker_id, run_at, started_at,
			completed_at, heartbeat_at, timeout_ns, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		t.ID.String(), t.Name, t.Queue, t.Payload, string(t.State),
		t.Priority, t.MaxRetries, t.RetryCount, t.LastError,
		t.WorkerID.String(), t.RunAt, t.StartedAt, t.CompletedAt,
		t.HeartbeatAt, int64(t.Timeout), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return calshift.ErrTaskAlreadyExists
		}
		return fmt.Errorf("calshift/postgres: enqueue task: %w", err)
	}
	return nil
}

// DequeueTasks atomically claims up to limit pending tasks from the given
// queues using FOR UPDATE SKIP LOCKED, so concurrent workers never claim
// the same task twice.
func (s *Store) DequeueTasks(ctx context.Context, queues []string, limit int) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			SELECT id FROM calshift_tasks
			WHERE state = 'pending'
			  AND queue = ANY($1)
			  AND run_at <= NOW()
			ORDER BY priority DESC, run_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE calshift_tasks t
		SET state = 'running',
		    started_at = NOW(),
		    heartbeat_at = NOW(),
		    updated_at = NOW()
		FROM claimed c
		WHERE t.id = c.id
		RETURNING t.id, t.name, t.queue, t.payload, t.state, t.priority,
		          t.max_retries, t.retry_count, t.last_error, t.worker_id,
		          t.run_at, t.started_at, t.completed_at, t.heartbeat_at,
		          t.timeout_ns, t.created_at, t.updated_at`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: dequeue tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM calshift_tasks WHERE id = $1`,
		taskID.String(),
	)

	t, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, calshift.ErrTaskNotFound
		}
		return nil, fmt.Errorf("calshift/postgres: get task: %w", err)
	}
	return t, nil
}

// UpdateTask persists changes to an existing task.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calshift_tasks
		SET name = $2, queue = $3, payload = $4, state = $5, priority = $6,
		    max_retries = $7, retry_count = $8, last_error = $9,
		    worker_id = $10, run_at = $11, started_at = $12,
		    completed_at = $13, heartbeat_at = $14, timeout_ns = $15,
		    updated_at = NOW()
		WHERE id = $1`,
		t.ID.String(), t.Name, t.Queue, t.Payload, string(t.State),
		t.Priority, t.MaxRetries, t.RetryCount, t.LastError,
		t.WorkerID.String(), t.RunAt, t.StartedAt, t.CompletedAt,
		t.HeartbeatAt, int64(t.Timeout),
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calshift.ErrTaskNotFound
	}
	return nil
}

// DeleteTask removes a task by ID.
func (s *Store) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM calshift_tasks WHERE id = $1`, taskID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calshift.ErrTaskNotFound
	}
	return nil
}

// ListTasksByState returns tasks matching the given state.
func (s *Store) ListTasksByState(ctx context.Context, state task.State, opts task.ListOpts) ([]*task.Task, error) {
	args := sqlArgs{string(state)}
	query := `SELECT ` + taskColumns + ` FROM calshift_tasks WHERE state = $1`

	if opts.Queue != "" {
		query += " AND queue = " + args.bind(opts.Queue)
	}
	query += " ORDER BY created_at ASC"
	query = args.paginate(query, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: list tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// HeartbeatTask updates the heartbeat timestamp for a running task.
func (s *Store) HeartbeatTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calshift_tasks
		SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW()
		WHERE id = $1`,
		taskID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: heartbeat task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calshift.ErrTaskNotFound
	}
	return nil
}

// ReapStaleTasks returns running tasks whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleTasks(ctx context.Context, threshold time.Duration) ([]*task.Task, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM calshift_tasks
		 WHERE state = 'running' AND heartbeat_at < $1`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: reap stale tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// CountTasks returns the number of tasks matching the given options.
func (s *Store) CountTasks(ctx context.Context, opts task.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM calshift_tasks WHERE 1=1`
	var args sqlArgs

	if opts.Queue != "" {
		query += " AND queue = " + args.bind(opts.Queue)
	}
	if opts.State != "" {
		query += " AND state = " + args.bind(string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("calshift/postgres: count tasks: %w", err)
	}
	return count, nil
}

// scanTask scans a single task row.
func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t            task.Task
		idStr        string
		workerIDStr  string
		timeoutNanos int64
	)

	err := row.Scan(
		&idStr, &t.Name, &t.Queue, &t.Payload, &t.State, &t.Priority,
		&t.MaxRetries, &t.RetryCount, &t.LastError, &workerIDStr,
		&t.RunAt, &t.StartedAt, &t.CompletedAt, &t.HeartbeatAt,
		&timeoutNanos, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.ID, err = id.ParseTaskID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse task id: %w", err)
	}
	if workerIDStr != "" {
		t.WorkerID, err = id.ParseWorkerID(workerIDStr)
		if err != nil {
			return nil, fmt.Errorf("parse worker id: %w", err)
		}
	}
	t.Timeout = time.Duration(timeoutNanos)

	return &t, nil
}

// collectTasks scans all remaining task rows.
func collectTasks(rows pgx.Rows) ([]*task.Task, error) {
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("calshift/postgres: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/postgres: iterate tasks: %w", err)
	}
	return tasks, nil
}

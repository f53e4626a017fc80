package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
)

const taskColumns = `id, name, queue, payload, state, priority, max_retries,
	retry_count, last_error, worker_id, run_at, started_at, completed_at,
	heartbeat_at, timeout_ns, created_at, updated_at`

// EnqueueTask persists a new task in pending state.
func (s *Store) EnqueueTask(ctx context.Context, t *task.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calshift_tasks (
			id, name, queue, payload, state, priority, max_retries,
			retry_count, last_error, worker_id, run_at, started_at,
			completed_at, heartbeat_at, timeout_ns, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.Name, t.Queue, t.Payload, string(t.State),
		t.Priority, t.MaxRetries, t.RetryCount, t.LastError,
		t.WorkerID.String(), t.RunAt, t.StartedAt, t.CompletedAt,
		t.HeartbeatAt, int64(t.Timeout), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return calshift.ErrTaskAlreadyExists
		}
		return fmt.Errorf("calshift/sqlite: enqueue task: %w", err)
	}
	return nil
}

// DequeueTasks claims up to limit pending tasks from the given queues
// inside a single immediate transaction, which is SQLite's equivalent
// of a write lock across competing workers.
func (s *Store) DequeueTasks(ctx context.Context, queues []string, limit int) ([]*task.Task, error) {
	if len(queues) == 0 || limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("calshift/sqlite: begin dequeue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.Repeat("?,", len(queues))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(queues)+2)
	for _, q := range queues {
		args = append(args, q)
	}
	args = append(args, time.Now().UTC(), limit)

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+taskColumns+` FROM calshift_tasks
		WHERE state = 'pending' AND queue IN (%s) AND run_at <= ?
		ORDER BY priority DESC, run_at ASC
		LIMIT ?`, placeholders),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/sqlite: dequeue select: %w", err)
	}

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now().UTC()
	for _, t := range tasks {
		if _, err := tx.ExecContext(ctx, `
			UPDATE calshift_tasks
			SET state = 'running', started_at = ?, heartbeat_at = ?, updated_at = ?
			WHERE id = ?`,
			now, now, now, t.ID.String(),
		); err != nil {
			return nil, fmt.Errorf("calshift/sqlite: claim task: %w", err)
		}
		t.State = task.StateRunning
		started := now
		heartbeat := now
		t.StartedAt = &started
		t.HeartbeatAt = &heartbeat
		t.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("calshift/sqlite: commit dequeue: %w", err)
	}
	return tasks, nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM calshift_tasks WHERE id = ?`,
		taskID.String(),
	)

	t, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, calshift.ErrTaskNotFound
		}
		return nil, fmt.Errorf("calshift/sqlite: get task: %w", err)
	}
	return t, nil
}

// UpdateTask persists changes to an existing task.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calshift_tasks
		SET name = ?, queue = ?, payload = ?, state = ?, priority = ?,
		    max_retries = ?, retry_count = ?, last_error = ?,
		    worker_id = ?, run_at = ?, started_at = ?, completed_at = ?,
		    heartbeat_at = ?, timeout_ns = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Queue, t.Payload, string(t.State), t.Priority,
		t.MaxRetries, t.RetryCount, t.LastError, t.WorkerID.String(),
		t.RunAt, t.StartedAt, t.CompletedAt, t.HeartbeatAt,
		int64(t.Timeout), time.Now().UTC(), t.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: update task: %w", err)
	}
	return rowsAffectedOr(res, calshift.ErrTaskNotFound)
}

// DeleteTask removes a task by ID.
func (s *Store) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM calshift_tasks WHERE id = ?`, taskID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: delete task: %w", err)
	}
	return rowsAffectedOr(res, calshift.ErrTaskNotFound)
}

// ListTasksByState returns tasks matching the given state.
func (s *Store) ListTasksByState(ctx context.Context, state task.State, opts task.ListOpts) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM calshift_tasks WHERE state = ?`
	args := []any{string(state)}

	if opts.Queue != "" {
		query += " AND queue = ?"
		args = append(args, opts.Queue)
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("calshift/sqlite: list tasks: %w", err)
	}

	return collectTasks(rows)
}

// HeartbeatTask updates the heartbeat timestamp for a running task.
func (s *Store) HeartbeatTask(ctx context.Context, taskID id.TaskID, workerID id.WorkerID) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE calshift_tasks
		SET heartbeat_at = ?, worker_id = ?, updated_at = ?
		WHERE id = ?`,
		now, workerID.String(), now, taskID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: heartbeat task: %w", err)
	}
	return rowsAffectedOr(res, calshift.ErrTaskNotFound)
}

// ReapStaleTasks returns running tasks whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleTasks(ctx context.Context, threshold time.Duration) ([]*task.Task, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM calshift_tasks
		 WHERE state = 'running' AND heartbeat_at < ?`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/sqlite: reap stale tasks: %w", err)
	}

	return collectTasks(rows)
}

// CountTasks returns the number of tasks matching the given options.
func (s *Store) CountTasks(ctx context.Context, opts task.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM calshift_tasks WHERE 1=1`
	args := []any{}

	if opts.Queue != "" {
		query += " AND queue = ?"
		args = append(args, opts.Queue)
	}
	if opts.State != "" {
		query += " AND state = ?"
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("calshift/sqlite: count tasks: %w", err)
	}
	return count, nil
}

// rowsAffectedOr returns notFound when the statement touched no rows.
func rowsAffectedOr(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("calshift/sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask scans a single task row.
func scanTask(row rowScanner) (*task.Task, error) {
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

// collectTasks scans all remaining task rows and closes the result set.
func collectTasks(rows *sql.Rows) ([]*task.Task, error) {
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("calshift/sqlite: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/sqlite: iterate tasks: %w", err)
	}
	return tasks, nil
}

package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/dlq"
	"github.com/calshift/calshift/id"
)

const dlqColumns = `id, task_id, task_name, queue, payload, error,
	retry_count, max_retries, failed_at, replayed_at, created_at`

// PushDLQ adds a failed task entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calshift_dlq (
			id, task_id, task_name, queue, payload, error,
			retry_count, max_retries, failed_at, replayed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.TaskID.String(), entry.TaskName,
		entry.Queue, entry.Payload, entry.Error, entry.RetryCount,
		entry.MaxRetries, entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM calshift_dlq WHERE 1=1`
	args := []any{}

	if opts.Queue != "" {
		query += " AND queue = ?"
		args = append(args, opts.Queue)
	}

	query += " ORDER BY failed_at DESC"

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
		return nil, fmt.Errorf("calshift/sqlite: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		entry, err := scanDLQ(rows)
		if err != nil {
			return nil, fmt.Errorf("calshift/sqlite: scan dlq entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/sqlite: iterate dlq: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+dlqColumns+` FROM calshift_dlq WHERE id = ?`,
		entryID.String(),
	)

	entry, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, calshift.ErrDLQNotFound
		}
		return nil, fmt.Errorf("calshift/sqlite: get dlq entry: %w", err)
	}
	return entry, nil
}

// ReplayDLQ marks a DLQ entry as replayed. The re-enqueue itself is
// handled at the service layer.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calshift_dlq SET replayed_at = ? WHERE id = ?`,
		time.Now().UTC(), entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: replay dlq entry: %w", err)
	}
	return rowsAffectedOr(res, calshift.ErrDLQNotFound)
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM calshift_dlq WHERE failed_at < ?`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("calshift/sqlite: purge dlq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("calshift/sqlite: purge dlq: %w", err)
	}
	return n, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calshift_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("calshift/sqlite: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row rowScanner) (*dlq.Entry, error) {
	var (
		entry     dlq.Entry
		idStr     string
		taskIDStr string
	)

	err := row.Scan(
		&idStr, &taskIDStr, &entry.TaskName, &entry.Queue, &entry.Payload,
		&entry.Error, &entry.RetryCount, &entry.MaxRetries,
		&entry.FailedAt, &entry.ReplayedAt, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.ID, err = id.ParseDLQID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse dlq id: %w", err)
	}
	entry.TaskID, err = id.ParseTaskID(taskIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse task id: %w", err)
	}

	return &entry, nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/dlq"
	"github.com/calshift/calshift/id"
)

const dlqColumns = `id, task_id, task_name, queue, payload, error,
	retry_count, max_retries, failed_at, replayed_at, created_at`

// PushDLQ adds a failed task entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calshift_dlq (
			id, task_id, task_name, queue, payload, error,
			retry_count, max_retries, failed_at, replayed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID.String(), entry.TaskID.String(), entry.TaskName,
		entry.Queue, entry.Payload, entry.Error, entry.RetryCount,
		entry.MaxRetries, entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM calshift_dlq WHERE 1=1`
	var args sqlArgs

	if opts.Queue != "" {
		query += " AND queue = " + args.bind(opts.Queue)
	}
	query += " ORDER BY failed_at DESC"
	query = args.paginate(query, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		entry, err := scanDLQ(rows)
		if err != nil {
			return nil, fmt.Errorf("calshift/postgres: scan dlq entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/postgres: iterate dlq: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM calshift_dlq WHERE id = $1`,
		entryID.String(),
	)

	entry, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, calshift.ErrDLQNotFound
		}
		return nil, fmt.Errorf("calshift/postgres: get dlq entry: %w", err)
	}
	return entry, nil
}

// ReplayDLQ marks a DLQ entry as replayed. The re-enqueue itself is
// handled at the service layer.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calshift_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: replay dlq entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calshift.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM calshift_dlq WHERE failed_at < $1`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("calshift/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM calshift_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("calshift/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
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

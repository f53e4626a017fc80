package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/cron"
	"github.com/calshift/calshift/id"
)

const cronColumns = `id, name, schedule, task_name, queue, payload,
	last_run_at, next_run_at, locked_by, locked_until, enabled,
	created_at, updated_at`

// RegisterCron persists a new cron entry. Entry names are unique.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calshift_cron_entries (
			id, name, schedule, task_name, queue, payload,
			last_run_at, next_run_at, locked_by, locked_until,
			enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.TaskName,
		entry.Queue, entry.Payload, entry.LastRunAt, entry.NextRunAt,
		nullStr(entry.LockedBy), entry.LockedUntil, entry.Enabled,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return calshift.ErrDuplicateCron
		}
		return fmt.Errorf("calshift/postgres: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cronColumns+` FROM calshift_cron_entries WHERE id = $1`,
		entryID.String(),
	)

	entry, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, calshift.ErrCronNotFound
		}
		return nil, fmt.Errorf("calshift/postgres: get cron: %w", err)
	}
	return entry, nil
}

// ListCrons returns all cron entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cronColumns+` FROM calshift_cron_entries ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: list crons: %w", err)
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		entry, err := scanCron(rows)
		if err != nil {
			return nil, fmt.Errorf("calshift/postgres: scan cron: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/postgres: iterate crons: %w", err)
	}
	return entries, nil
}

// AcquireCronLock attempts to acquire the distributed lock for a cron
// entry with a single conditional UPDATE: the lock is granted if it is
// free, expired, or already held by this worker.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	tag, err := s.pool.Exec(ctx, `
		UPDATE calshift_cron_entries
		SET locked_by = $2, locked_until = $3, updated_at = NOW()
		WHERE id = $1
		  AND (locked_by IS NULL OR locked_until < NOW() OR locked_by = $2)`,
		entryID.String(), workerID.String(), until,
	)
	if err != nil {
		return false, fmt.Errorf("calshift/postgres: acquire cron lock: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Distinguish a held lock from a missing entry.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM calshift_cron_entries WHERE id = $1)`,
		entryID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("calshift/postgres: acquire cron lock: %w", err)
	}
	if !exists {
		return false, calshift.ErrCronNotFound
	}
	return false, nil
}

// ReleaseCronLock releases the distributed lock for a cron entry.
// Releasing a lock held by another worker is a no-op.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calshift_cron_entries
		SET locked_by = NULL, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND locked_by = $2`,
		entryID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: release cron lock: %w", err)
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM calshift_cron_entries WHERE id = $1)`,
		entryID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("calshift/postgres: release cron lock: %w", err)
	}
	if !exists {
		return calshift.ErrCronNotFound
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calshift_cron_entries
		SET last_run_at = $2, updated_at = NOW()
		WHERE id = $1`,
		entryID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: update cron last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calshift.ErrCronNotFound
	}
	return nil
}

// UpdateCronEntry updates a cron entry. Lock fields are owned by
// Acquire/ReleaseCronLock and are not touched here.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calshift_cron_entries
		SET name = $2, schedule = $3, task_name = $4, queue = $5,
		    payload = $6, last_run_at = $7, next_run_at = $8,
		    enabled = $9, updated_at = NOW()
		WHERE id = $1`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.TaskName,
		entry.Queue, entry.Payload, entry.LastRunAt, entry.NextRunAt,
		entry.Enabled,
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: update cron entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calshift.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM calshift_cron_entries WHERE id = $1`, entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: delete cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calshift.ErrCronNotFound
	}
	return nil
}

// scanCron scans a single cron entry row.
func scanCron(row pgx.Row) (*cron.Entry, error) {
	var (
		entry    cron.Entry
		idStr    string
		lockedBy *string
	)

	err := row.Scan(
		&idStr, &entry.Name, &entry.Schedule, &entry.TaskName,
		&entry.Queue, &entry.Payload, &entry.LastRunAt, &entry.NextRunAt,
		&lockedBy, &entry.LockedUntil, &entry.Enabled,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.ID, err = id.ParseCronID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse cron id: %w", err)
	}
	if lockedBy != nil {
		entry.LockedBy = *lockedBy
	}

	return &entry, nil
}

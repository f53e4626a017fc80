package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/cron"
	"github.com/calshift/calshift/id"
)

const cronColumns = `id, name, schedule, task_name, queue, payload,
	last_run_at, next_run_at, locked_by, locked_until, enabled,
	created_at, updated_at`

// RegisterCron persists a new cron entry. Entry names are unique.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calshift_cron_entries (
			id, name, schedule, task_name, queue, payload,
			last_run_at, next_run_at, locked_by, locked_until,
			enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.TaskName,
		entry.Queue, entry.Payload, entry.LastRunAt, entry.NextRunAt,
		nullStr(entry.LockedBy), entry.LockedUntil, entry.Enabled,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return calshift.ErrDuplicateCron
		}
		return fmt.Errorf("calshift/sqlite: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cronColumns+` FROM calshift_cron_entries WHERE id = ?`,
		entryID.String(),
	)

	entry, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, calshift.ErrCronNotFound
		}
		return nil, fmt.Errorf("calshift/sqlite: get cron: %w", err)
	}
	return entry, nil
}

// ListCrons returns all cron entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cronColumns+` FROM calshift_cron_entries ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/sqlite: list crons: %w", err)
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		entry, err := scanCron(rows)
		if err != nil {
			return nil, fmt.Errorf("calshift/sqlite: scan cron: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/sqlite: iterate crons: %w", err)
	}
	return entries, nil
}

// AcquireCronLock attempts to acquire the lock for a cron entry. The
// lock is granted if it is free, expired, or already held by this worker.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	until := now.Add(ttl)

	res, err := s.db.ExecContext(ctx, `
		UPDATE calshift_cron_entries
		SET locked_by = ?, locked_until = ?, updated_at = ?
		WHERE id = ?
		  AND (locked_by IS NULL OR locked_until < ? OR locked_by = ?)`,
		workerID.String(), until, now, entryID.String(), now, workerID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("calshift/sqlite: acquire cron lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("calshift/sqlite: acquire cron lock: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Distinguish a held lock from a missing entry.
	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM calshift_cron_entries WHERE id = ?)`,
		entryID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("calshift/sqlite: acquire cron lock: %w", err)
	}
	if !exists {
		return false, calshift.ErrCronNotFound
	}
	return false, nil
}

// ReleaseCronLock releases the lock for a cron entry. Releasing a lock
// held by another worker is a no-op.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE calshift_cron_entries
		SET locked_by = NULL, locked_until = NULL, updated_at = ?
		WHERE id = ? AND locked_by = ?`,
		time.Now().UTC(), entryID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: release cron lock: %w", err)
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM calshift_cron_entries WHERE id = ?)`,
		entryID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: release cron lock: %w", err)
	}
	if !exists {
		return calshift.ErrCronNotFound
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calshift_cron_entries
		SET last_run_at = ?, updated_at = ?
		WHERE id = ?`,
		at, time.Now().UTC(), entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: update cron last run: %w", err)
	}
	return rowsAffectedOr(res, calshift.ErrCronNotFound)
}

// UpdateCronEntry updates a cron entry. Lock fields are owned by
// Acquire/ReleaseCronLock and are not touched here.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calshift_cron_entries
		SET name = ?, schedule = ?, task_name = ?, queue = ?,
		    payload = ?, last_run_at = ?, next_run_at = ?,
		    enabled = ?, updated_at = ?
		WHERE id = ?`,
		entry.Name, entry.Schedule, entry.TaskName, entry.Queue,
		entry.Payload, entry.LastRunAt, entry.NextRunAt, entry.Enabled,
		time.Now().UTC(), entry.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: update cron entry: %w", err)
	}
	return rowsAffectedOr(res, calshift.ErrCronNotFound)
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM calshift_cron_entries WHERE id = ?`, entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: delete cron: %w", err)
	}
	return rowsAffectedOr(res, calshift.ErrCronNotFound)
}

// scanCron scans a single cron entry row.
func scanCron(row rowScanner) (*cron.Entry, error) {
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

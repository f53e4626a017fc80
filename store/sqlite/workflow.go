package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/workflow"
)

const runColumns = `id, name, state, version, input, output, error,
	parent_run_id, started_at, completed_at, created_at, updated_at`

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	var parentID any
	if run.ParentRunID != nil {
		parentID = run.ParentRunID.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calshift_workflow_runs (
			id, name, state, version, input, output, error,
			parent_run_id, started_at, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.Name, string(run.State), run.Version,
		run.Input, run.Output, run.Error, parentID,
		run.StartedAt, run.CompletedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return calshift.ErrRunAlreadyExists
		}
		return fmt.Errorf("calshift/sqlite: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM calshift_workflow_runs WHERE id = ?`,
		runID.String(),
	)

	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, calshift.ErrRunNotFound
		}
		return nil, fmt.Errorf("calshift/sqlite: get run: %w", err)
	}
	return run, nil
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	var parentID any
	if run.ParentRunID != nil {
		parentID = run.ParentRunID.String()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE calshift_workflow_runs
		SET name = ?, state = ?, version = ?, input = ?, output = ?,
		    error = ?, parent_run_id = ?, started_at = ?,
		    completed_at = ?, updated_at = ?
		WHERE id = ?`,
		run.Name, string(run.State), run.Version, run.Input, run.Output,
		run.Error, parentID, run.StartedAt, run.CompletedAt,
		time.Now().UTC(), run.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: update run: %w", err)
	}
	return rowsAffectedOr(res, calshift.ErrRunNotFound)
}

// ListRuns returns workflow runs matching the given options.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	query := `SELECT ` + runColumns + ` FROM calshift_workflow_runs WHERE 1=1`
	args := []any{}

	if opts.State != "" {
		query += " AND state = ?"
		args = append(args, string(opts.State))
	}
	if opts.Name != "" {
		query += " AND name = ?"
		args = append(args, opts.Name)
	}

	query += " ORDER BY started_at DESC"

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
		return nil, fmt.Errorf("calshift/sqlite: list runs: %w", err)
	}

	return collectRuns(rows)
}

// SaveCheckpoint persists checkpoint data for a workflow step, replacing
// any existing checkpoint for the same run/step. New checkpoints take
// the next per-run sequence number; replacements keep their original
// position in the step order.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calshift_checkpoints (id, run_id, step_name, data, seq, created_at)
		VALUES (?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM calshift_checkpoints WHERE run_id = ?),
			?)
		ON CONFLICT (run_id, step_name)
		DO UPDATE SET data = excluded.data`,
		id.NewCheckpointID().String(), runID.String(), stepName, data,
		runID.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
// Returns nil data if no checkpoint exists.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM calshift_checkpoints WHERE run_id = ? AND step_name = ?`,
		runID.String(), stepName,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("calshift/sqlite: get checkpoint: %w", err)
	}

	// Plain steps checkpoint with empty data; presence still matters.
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// ListCheckpoints returns all checkpoints for a workflow run in step order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step_name, data, created_at
		FROM calshift_checkpoints
		WHERE run_id = ?
		ORDER BY seq ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/sqlite: list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []*workflow.Checkpoint
	for rows.Next() {
		var (
			cp       workflow.Checkpoint
			cpIDStr  string
			runIDStr string
		)
		if err := rows.Scan(&cpIDStr, &runIDStr, &cp.StepName, &cp.Data, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("calshift/sqlite: scan checkpoint: %w", err)
		}
		cp.ID, err = id.ParseCheckpointID(cpIDStr)
		if err != nil {
			return nil, fmt.Errorf("calshift/sqlite: parse checkpoint id: %w", err)
		}
		cp.RunID, err = id.ParseRunID(runIDStr)
		if err != nil {
			return nil, fmt.Errorf("calshift/sqlite: parse run id: %w", err)
		}
		cps = append(cps, &cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/sqlite: iterate checkpoints: %w", err)
	}
	return cps, nil
}

// ListChildRuns returns all child workflow runs for a parent.
func (s *Store) ListChildRuns(ctx context.Context, parentRunID id.RunID) ([]*workflow.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM calshift_workflow_runs
		 WHERE parent_run_id = ?
		 ORDER BY started_at ASC`,
		parentRunID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/sqlite: list child runs: %w", err)
	}

	return collectRuns(rows)
}

// DeleteCheckpointsAfter removes all checkpoints recorded after the given
// step, by per-run sequence order. Used to rewind a run for migration replay.
func (s *Store) DeleteCheckpointsAfter(ctx context.Context, runID id.RunID, afterStep string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM calshift_checkpoints
		WHERE run_id = ?
		  AND seq > (
			SELECT seq FROM calshift_checkpoints
			WHERE run_id = ? AND step_name = ?
		  )`,
		runID.String(), runID.String(), afterStep,
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: delete checkpoints after: %w", err)
	}
	return nil
}

// AppendHistory appends one event to a run's execution history.
func (s *Store) AppendHistory(ctx context.Context, evt *workflow.HistoryEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calshift_history (id, run_id, kind, name, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		evt.ID.String(), evt.RunID.String(), string(evt.Kind),
		evt.Name, evt.Data, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: append history: %w", err)
	}
	return nil
}

// ListHistory returns a run's history events in append order.
func (s *Store) ListHistory(ctx context.Context, runID id.RunID) ([]*workflow.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, kind, name, data, created_at
		FROM calshift_history
		WHERE run_id = ?
		ORDER BY seq ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/sqlite: list history: %w", err)
	}
	defer rows.Close()

	var events []*workflow.HistoryEvent
	for rows.Next() {
		var (
			evt      workflow.HistoryEvent
			idStr    string
			runIDStr string
		)
		if err := rows.Scan(&idStr, &runIDStr, &evt.Kind, &evt.Name, &evt.Data, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("calshift/sqlite: scan history event: %w", err)
		}
		evt.ID, err = id.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("calshift/sqlite: parse history id: %w", err)
		}
		evt.RunID, err = id.ParseRunID(runIDStr)
		if err != nil {
			return nil, fmt.Errorf("calshift/sqlite: parse run id: %w", err)
		}
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/sqlite: iterate history: %w", err)
	}
	return events, nil
}

// scanRun scans a single workflow run row.
func scanRun(row rowScanner) (*workflow.Run, error) {
	var (
		run         workflow.Run
		idStr       string
		parentIDStr *string
	)

	err := row.Scan(
		&idStr, &run.Name, &run.State, &run.Version, &run.Input,
		&run.Output, &run.Error, &parentIDStr, &run.StartedAt,
		&run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.ID, err = id.ParseRunID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	if parentIDStr != nil {
		parentID, err := id.ParseRunID(*parentIDStr)
		if err != nil {
			return nil, fmt.Errorf("parse parent run id: %w", err)
		}
		run.ParentRunID = &parentID
	}

	return &run, nil
}

// collectRuns scans all remaining run rows and closes the result set.
func collectRuns(rows *sql.Rows) ([]*workflow.Run, error) {
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("calshift/sqlite: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/sqlite: iterate runs: %w", err)
	}
	return runs, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

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

	_, err := s.pool.Exec(ctx, `
		INSERT INTO calshift_workflow_runs (
			id, name, state, version, input, output, error,
			parent_run_id, started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID.String(), run.Name, string(run.State), run.Version,
		run.Input, run.Output, run.Error, parentID,
		run.StartedAt, run.CompletedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return calshift.ErrRunAlreadyExists
		}
		return fmt.Errorf("calshift/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM calshift_workflow_runs WHERE id = $1`,
		runID.String(),
	)

	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, calshift.ErrRunNotFound
		}
		return nil, fmt.Errorf("calshift/postgres: get run: %w", err)
	}
	return run, nil
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	var parentID any
	if run.ParentRunID != nil {
		parentID = run.ParentRunID.String()
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE calshift_workflow_runs
		SET name = $2, state = $3, version = $4, input = $5, output = $6,
		    error = $7, parent_run_id = $8, started_at = $9,
		    completed_at = $10, updated_at = NOW()
		WHERE id = $1`,
		run.ID.String(), run.Name, string(run.State), run.Version,
		run.Input, run.Output, run.Error, parentID,
		run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calshift.ErrRunNotFound
	}
	return nil
}

// ListRuns returns workflow runs matching the given options.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	query := `SELECT ` + runColumns + ` FROM calshift_workflow_runs WHERE 1=1`
	var args sqlArgs

	if opts.State != "" {
		query += " AND state = " + args.bind(string(opts.State))
	}
	if opts.Name != "" {
		query += " AND name = " + args.bind(opts.Name)
	}

	query += " ORDER BY started_at DESC"
	query = args.paginate(query, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// SaveCheckpoint persists checkpoint data for a workflow step, replacing
// any existing checkpoint for the same run/step.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calshift_checkpoints (id, run_id, step_name, data, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (run_id, step_name)
		DO UPDATE SET data = EXCLUDED.data`,
		id.NewCheckpointID().String(), runID.String(), stepName, data,
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
// Returns nil data if no checkpoint exists.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM calshift_checkpoints WHERE run_id = $1 AND step_name = $2`,
		runID.String(), stepName,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("calshift/postgres: get checkpoint: %w", err)
	}

	// A checkpoint may exist with empty data (plain steps). Distinguish
	// from the missing case by returning a non-nil empty slice.
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// ListCheckpoints returns all checkpoints for a workflow run.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, step_name, data, created_at
		FROM calshift_checkpoints
		WHERE run_id = $1
		ORDER BY created_at ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: list checkpoints: %w", err)
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
			return nil, fmt.Errorf("calshift/postgres: scan checkpoint: %w", err)
		}
		cp.ID, err = id.ParseCheckpointID(cpIDStr)
		if err != nil {
			return nil, fmt.Errorf("calshift/postgres: parse checkpoint id: %w", err)
		}
		cp.RunID, err = id.ParseRunID(runIDStr)
		if err != nil {
			return nil, fmt.Errorf("calshift/postgres: parse run id: %w", err)
		}
		cps = append(cps, &cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/postgres: iterate checkpoints: %w", err)
	}
	return cps, nil
}

// ListChildRuns returns all child workflow runs for a parent.
func (s *Store) ListChildRuns(ctx context.Context, parentRunID id.RunID) ([]*workflow.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM calshift_workflow_runs
		 WHERE parent_run_id = $1
		 ORDER BY started_at ASC`,
		parentRunID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: list child runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// DeleteCheckpointsAfter removes all checkpoints created after the given
// step, by creation order. Used to rewind a run for migration replay.
func (s *Store) DeleteCheckpointsAfter(ctx context.Context, runID id.RunID, afterStep string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM calshift_checkpoints
		WHERE run_id = $1
		  AND created_at > (
			SELECT created_at FROM calshift_checkpoints
			WHERE run_id = $1 AND step_name = $2
		  )`,
		runID.String(), afterStep,
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: delete checkpoints after: %w", err)
	}
	return nil
}

// AppendHistory appends one event to a run's execution history.
func (s *Store) AppendHistory(ctx context.Context, evt *workflow.HistoryEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calshift_history (id, run_id, kind, name, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		evt.ID.String(), evt.RunID.String(), string(evt.Kind),
		evt.Name, evt.Data, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: append history: %w", err)
	}
	return nil
}

// ListHistory returns a run's history events in append order.
func (s *Store) ListHistory(ctx context.Context, runID id.RunID) ([]*workflow.HistoryEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, kind, name, data, created_at
		FROM calshift_history
		WHERE run_id = $1
		ORDER BY seq ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: list history: %w", err)
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
			return nil, fmt.Errorf("calshift/postgres: scan history event: %w", err)
		}
		evt.ID, err = id.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("calshift/postgres: parse history id: %w", err)
		}
		evt.RunID, err = id.ParseRunID(runIDStr)
		if err != nil {
			return nil, fmt.Errorf("calshift/postgres: parse run id: %w", err)
		}
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/postgres: iterate history: %w", err)
	}
	return events, nil
}

// scanRun scans a single workflow run row.
func scanRun(row pgx.Row) (*workflow.Run, error) {
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

// collectRuns scans all remaining run rows.
func collectRuns(rows pgx.Rows) ([]*workflow.Run, error) {
	var runs []*workflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("calshift/postgres: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/postgres: iterate runs: %w", err)
	}
	return runs, nil
}

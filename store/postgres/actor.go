package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/actor"
	"github.com/calshift/calshift/id"
)

// GetActor retrieves the actor instance for (kind, key).
func (s *Store) GetActor(ctx context.Context, kind, key string) (*actor.Instance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, kind, key, state, version, created_at, updated_at
		FROM calshift_actors
		WHERE kind = $1 AND key = $2`,
		kind, key,
	)

	inst, err := scanActor(row)
	if err != nil {
		if isNoRows(err) {
			return nil, calshift.ErrActorNotFound
		}
		return nil, fmt.Errorf("calshift/postgres: get actor: %w", err)
	}
	return inst, nil
}

// SaveActor upserts an actor instance keyed on (kind, key).
func (s *Store) SaveActor(ctx context.Context, inst *actor.Instance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calshift_actors (id, kind, key, state, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kind, key)
		DO UPDATE SET state = EXCLUDED.state,
		              version = EXCLUDED.version,
		              updated_at = NOW()`,
		inst.ID.String(), inst.Kind, inst.Key, inst.State,
		inst.Version, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: save actor: %w", err)
	}
	return nil
}

// ListActors returns all instances of the given kind.
func (s *Store) ListActors(ctx context.Context, kind string) ([]*actor.Instance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, key, state, version, created_at, updated_at
		FROM calshift_actors
		WHERE kind = $1
		ORDER BY key ASC`,
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: list actors: %w", err)
	}
	defer rows.Close()

	var instances []*actor.Instance
	for rows.Next() {
		inst, err := scanActor(rows)
		if err != nil {
			return nil, fmt.Errorf("calshift/postgres: scan actor: %w", err)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/postgres: iterate actors: %w", err)
	}
	return instances, nil
}

// DeleteActor removes the actor instance for (kind, key).
func (s *Store) DeleteActor(ctx context.Context, kind, key string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM calshift_actors WHERE kind = $1 AND key = $2`,
		kind, key,
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: delete actor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calshift.ErrActorNotFound
	}
	return nil
}

// AppendActorOp appends one entry to an actor's operation log.
func (s *Store) AppendActorOp(ctx context.Context, rec *actor.OpRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calshift_actor_ops (kind, key, op, version, invoked_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.Kind, rec.Key, rec.Op, rec.Version, rec.InvokedAt,
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: append actor op: %w", err)
	}
	return nil
}

// ListActorOps returns the operation log for (kind, key) in append order.
func (s *Store) ListActorOps(ctx context.Context, kind, key string) ([]*actor.OpRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, key, op, version, invoked_at
		FROM calshift_actor_ops
		WHERE kind = $1 AND key = $2
		ORDER BY seq ASC`,
		kind, key,
	)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: list actor ops: %w", err)
	}
	defer rows.Close()

	var ops []*actor.OpRecord
	for rows.Next() {
		var rec actor.OpRecord
		if err := rows.Scan(&rec.Kind, &rec.Key, &rec.Op, &rec.Version, &rec.InvokedAt); err != nil {
			return nil, fmt.Errorf("calshift/postgres: scan actor op: %w", err)
		}
		ops = append(ops, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calshift/postgres: iterate actor ops: %w", err)
	}
	return ops, nil
}

// scanActor scans a single actor instance row.
func scanActor(row pgx.Row) (*actor.Instance, error) {
	var (
		inst  actor.Instance
		idStr string
	)

	err := row.Scan(
		&idStr, &inst.Kind, &inst.Key, &inst.State, &inst.Version,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inst.ID, err = id.ParseActorID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse actor id: %w", err)
	}

	return &inst, nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/event"
	"github.com/calshift/calshift/id"
)

// subscribePollInterval is how often SubscribeEvent re-checks for a
// matching event between notifications.
const subscribePollInterval = 50 * time.Millisecond

// PublishEvent persists a new event and wakes up any poll-based
// subscribers via pg_notify. The notify is best-effort; subscribers
// fall back to polling.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calshift_events (id, name, payload, acked, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		evt.ID.String(), evt.Name, evt.Payload, evt.Acked, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: publish event: %w", err)
	}

	if _, notifyErr := s.pool.Exec(ctx,
		`SELECT pg_notify('calshift_events', $1)`, evt.Name,
	); notifyErr != nil {
		s.logger.Debug("pg_notify failed", "event", evt.Name, "error", notifyErr)
	}

	return nil
}

// SubscribeEvent waits for an unacked event matching the given name by
// polling. Returns nil if no event arrives within the timeout.
func (s *Store) SubscribeEvent(ctx context.Context, name string, timeout time.Duration) (*event.Event, error) {
	deadline := time.Now().Add(timeout)

	for {
		evt, err := s.findUnackedEvent(ctx, name)
		if err != nil {
			return nil, err
		}
		if evt != nil {
			return evt, nil
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		wait := subscribePollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (s *Store) AckEvent(ctx context.Context, eventID id.EventID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calshift_events SET acked = TRUE WHERE id = $1`,
		eventID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/postgres: ack event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return calshift.ErrEventNotFound
	}
	return nil
}

// findUnackedEvent returns the oldest unacked event with the given name,
// or nil if none exists.
func (s *Store) findUnackedEvent(ctx context.Context, name string) (*event.Event, error) {
	var (
		evt   event.Event
		idStr string
	)

	err := s.pool.QueryRow(ctx, `
		SELECT id, name, payload, acked, created_at
		FROM calshift_events
		WHERE name = $1 AND acked = FALSE
		ORDER BY created_at ASC
		LIMIT 1`,
		name,
	).Scan(&idStr, &evt.Name, &evt.Payload, &evt.Acked, &evt.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("calshift/postgres: find event: %w", err)
	}

	evt.ID, err = id.ParseEventID(idStr)
	if err != nil {
		return nil, fmt.Errorf("calshift/postgres: parse event id: %w", err)
	}

	return &evt, nil
}

package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/event"
	"github.com/calshift/calshift/id"
)

// subscribePollInterval is how often SubscribeEvent re-checks for a
// matching event.
const subscribePollInterval = 50 * time.Millisecond

// PublishEvent persists a new event.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calshift_events (id, name, payload, acked, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		evt.ID.String(), evt.Name, evt.Payload, evt.Acked, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: publish event: %w", err)
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
	res, err := s.db.ExecContext(ctx,
		`UPDATE calshift_events SET acked = 1 WHERE id = ?`,
		eventID.String(),
	)
	if err != nil {
		return fmt.Errorf("calshift/sqlite: ack event: %w", err)
	}
	return rowsAffectedOr(res, calshift.ErrEventNotFound)
}

// findUnackedEvent returns the oldest unacked event with the given name,
// or nil if none exists.
func (s *Store) findUnackedEvent(ctx context.Context, name string) (*event.Event, error) {
	var (
		evt   event.Event
		idStr string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, payload, acked, created_at
		FROM calshift_events
		WHERE name = ? AND acked = 0
		ORDER BY created_at ASC
		LIMIT 1`,
		name,
	).Scan(&idStr, &evt.Name, &evt.Payload, &evt.Acked, &evt.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("calshift/sqlite: find event: %w", err)
	}

	evt.ID, err = id.ParseEventID(idStr)
	if err != nil {
		return nil, fmt.Errorf("calshift/sqlite: parse event id: %w", err)
	}

	return &evt, nil
}

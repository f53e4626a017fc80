package memory

import (
	"context"
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/event"
	"github.com/calshift/calshift/id"
)

// PublishEvent persists a new event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[evt.ID.String()] = clone(evt)
	return nil
}

// pendingEvent returns an unacked event with the given name, or nil.
func (m *Store) pendingEvent(name string) *event.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, evt := range m.events {
		if evt.Name == name && !evt.Acked {
			return clone(evt)
		}
	}
	return nil
}

// SubscribeEvent polls for an unacked event with the given name, checking
// every 10ms until one appears or the timeout lapses. A quiet timeout
// returns nil, nil.
func (m *Store) SubscribeEvent(ctx context.Context, name string, timeout time.Duration) (*event.Event, error) {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if evt := m.pendingEvent(name); evt != nil {
			return evt, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}

		time.Sleep(10 * time.Millisecond)
	}
}

// AckEvent marks an event consumed so later subscribers skip it.
func (m *Store) AckEvent(_ context.Context, eventID id.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	evt, err := fetch(m.events, eventID.String(), calshift.ErrEventNotFound)
	if err != nil {
		return err
	}
	evt.Acked = true
	return nil
}

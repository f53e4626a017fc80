// Package event carries named signals between migration workflows and the
// outside world. A run parks on WaitForEvent until an operator or another
// system publishes the event it is waiting on, e.g. a manual approval before
// a batch's cutover step.
package event

import (
	"context"
	"time"

	"github.com/calshift/calshift/id"
)

// Bus is the publish/subscribe surface over an event Store.
type Bus struct {
	store Store
}

// NewBus creates an event bus backed by the given store.
func NewBus(store Store) *Bus {
	return &Bus{store: store}
}

// Publish persists a new event under the given name. Any workflow parked on
// that name picks it up on its next poll.
func (b *Bus) Publish(ctx context.Context, name string, payload []byte) (*Event, error) {
	evt := &Event{
		ID:        id.NewEventID(),
		Name:      name,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.store.PublishEvent(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// Subscribe blocks until an unacked event with the given name exists, the
// timeout lapses (nil, nil), or ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, name string, timeout time.Duration) (*Event, error) {
	return b.store.SubscribeEvent(ctx, name, timeout)
}

// Ack marks an event consumed so it is delivered at most once.
func (b *Bus) Ack(ctx context.Context, eventID id.EventID) error {
	return b.store.AckEvent(ctx, eventID)
}

// Store returns the underlying event store.
func (b *Bus) Store() Store { return b.store }

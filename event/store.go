package event

import (
	"context"
	"time"

	"github.com/calshift/calshift/id"
)

// Store is the persistence contract for the durable event bus. Workflows
// wait on named events (WaitForEvent) and completed refreshes publish
// them, so events survive restarts until acked.
type Store interface {
	// PublishEvent persists an event and makes it visible to waiters.
	PublishEvent(ctx context.Context, evt *Event) error

	// SubscribeEvent blocks until an unacked event with the given name
	// exists or the timeout expires; a timeout yields nil, nil.
	SubscribeEvent(ctx context.Context, name string, timeout time.Duration) (*Event, error)

	// AckEvent marks an event consumed so no other waiter receives it.
	AckEvent(ctx context.Context, eventID id.EventID) error
}

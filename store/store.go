package store

import (
	"context"

	"github.com/calshift/calshift/actor"
	"github.com/calshift/calshift/cluster"
	"github.com/calshift/calshift/cron"
	"github.com/calshift/calshift/dlq"
	"github.com/calshift/calshift/event"
	"github.com/calshift/calshift/task"
	"github.com/calshift/calshift/workflow"
)

// Store is the union of every subsystem's persistence contract. One
// backend satisfies all of them, so a migration engine needs a single
// connection string regardless of which features it uses.
type Store interface {
	task.Store
	workflow.Store
	actor.Store
	cron.Store
	dlq.Store
	event.Store
	cluster.Store

	// Migrate brings the schema up to date. Safe to call on every start.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// Package memory implements every calshift store interface with
// in-process maps. It backs unit tests and local development; durable
// deployments use the postgres or sqlite backends.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/calshift/calshift/actor"
	"github.com/calshift/calshift/cluster"
	"github.com/calshift/calshift/cron"
	"github.com/calshift/calshift/dlq"
	"github.com/calshift/calshift/event"
	"github.com/calshift/calshift/task"
	"github.com/calshift/calshift/workflow"
)

// The combined store.Store interface lives in a package that imports this
// one, so the compile-time checks go subsystem by subsystem.
var (
	_ task.Store     = (*Store)(nil)
	_ workflow.Store = (*Store)(nil)
	_ actor.Store    = (*Store)(nil)
	_ cron.Store     = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// Store keeps every engine record in process memory under a single lock.
// All methods hand out copies, so a caller mutating a returned record
// never races the store's own state.
type Store struct {
	mu sync.RWMutex

	tasks       map[string]*task.Task
	runs        map[string]*workflow.Run
	checkpoints map[string]*workflow.Checkpoint // keyed "runID:stepName"
	history     map[string][]*workflow.HistoryEvent
	actors      map[string]*actor.Instance // keyed "kind/key"
	actorOps    map[string][]*actor.OpRecord
	crons       map[string]*cron.Entry
	dlqs        map[string]*dlq.Entry
	events      map[string]*event.Event
	workers     map[string]*cluster.Worker

	leader      string // worker ID of the current leader, "" when vacant
	leaderUntil time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tasks:       make(map[string]*task.Task),
		runs:        make(map[string]*workflow.Run),
		checkpoints: make(map[string]*workflow.Checkpoint),
		history:     make(map[string][]*workflow.HistoryEvent),
		actors:      make(map[string]*actor.Instance),
		actorOps:    make(map[string][]*actor.OpRecord),
		crons:       make(map[string]*cron.Entry),
		dlqs:        make(map[string]*dlq.Entry),
		events:      make(map[string]*event.Event),
		workers:     make(map[string]*cluster.Worker),
	}
}

// Migrate is a no-op; there is no schema to create.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *Store) Close() error { return nil }

// clone gives callers their own copy of a stored record.
func clone[T any](v *T) *T {
	cp := *v
	return &cp
}

// fetch looks a record up by key, translating a miss into the
// subsystem's not-found error.
func fetch[T any](records map[string]*T, key string, missing error) (*T, error) {
	v, ok := records[key]
	if !ok {
		return nil, missing
	}
	return v, nil
}

// remove deletes a record by key, translating a miss into the
// subsystem's not-found error.
func remove[T any](records map[string]*T, key string, missing error) error {
	if _, ok := records[key]; !ok {
		return missing
	}
	delete(records, key)
	return nil
}

// page slices an already-sorted listing by offset and limit.
func page[T any](items []*T, offset, limit int) []*T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// sortByTime orders records ascending by the given timestamp.
func sortByTime[T any](items []*T, at func(*T) time.Time) {
	sort.Slice(items, func(i, k int) bool {
		return at(items[i]).Before(at(items[k]))
	})
}

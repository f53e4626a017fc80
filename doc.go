// Package calshift provides a durable workflow engine for migrating
// calendar-meeting ownership between identity directories. It discovers
// meetings organized by each user in a batch, remaps organizer and attendee
// identities through a mapping table, recreates each meeting in the
// destination directory, retires the original, and notifies the user before
// and after.
//
// Calshift is designed as a library, not a service. Import it, configure a
// store, register the migration workflows, and submit batches.
//
// # Quick Start
//
//	c, err := calshift.New(
//	    calshift.WithStore(pgStore),
//	    calshift.WithConcurrency(20),
//	)
//
// # Architecture
//
// Calshift follows a composable store pattern where each subsystem (task,
// workflow, actor, cron, dlq, event, cluster) defines its own store
// interface. A single backend implements all of them.
//
// Durability is checkpoint-based: a workflow body is re-executed from the
// top on every resumption, and every engine primitive (activity call, actor
// call, child workflow, timer) consults its checkpoint before performing
// work. Crash anywhere, resume exactly where you left off, without
// duplicating side effects.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package calshift

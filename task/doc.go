// Package task defines the unit of migration work: the queued [Task]
// entity, its state machine, typed handler definitions, and the store
// contract the persistence backends implement.
//
// # Lifecycle
//
// Every task starts pending and is claimed by a worker, which drives it
// to one of the terminal states:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed (→ DLQ)
//	pending → cancelled
//
// Retrying loops back through pending scheduling until the retry budget
// (MaxRetries) is spent, at which point the task fails and lands in the
// dead letter queue.
//
// # Typed definitions
//
// Handlers are written against their payload type; the registry wraps
// them with JSON decoding so the rest of the system only moves bytes:
//
//	var RemapMailbox = task.NewDefinition("remap_mailbox",
//	    func(ctx context.Context, batch MailboxBatch) error {
//	        return migrator.Remap(ctx, batch)
//	    },
//	    task.WithQueue("migrations"),
//	)
//
//	task.RegisterDefinition(registry, RemapMailbox)
//
// The engine package layers engine.Register and engine.Enqueue on top of
// this for applications that do not hold a registry directly.
package task

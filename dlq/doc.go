// Package dlq holds tasks that ran out of retries.
//
// The executor calls [Service.Push] once a task's final retry fails.
// Nothing is discarded in the process: an [Entry] keeps the task's
// identity, its payload as it was when it failed, the closing error
// message, and the spent retry budget. Operators work through entries
// after a migration window, fix the underlying directory or mailbox
// problem, and put the work back on the queue.
//
// [Service.Replay] is that second chance. It enqueues a brand-new task
// carrying the entry's payload (fresh ID, zeroed retry count) and stamps
// ReplayedAt so the entry shows as handled. Entries are never deleted by
// replay; PurgeDLQ trims old ones by age.
//
// Typical inspection flow:
//
//	svc := dlq.NewService(store, taskStore)
//	entries, _ := svc.DLQStore().ListDLQ(ctx, dlq.ListOpts{Queue: "mailboxes", Limit: 50})
//	for _, e := range entries {
//	    // decide, then:
//	    svc.Replay(ctx, e.ID)
//	}
//
// The same operations are reachable over HTTP under /v1/dlq for
// dashboards and scripts.
package dlq

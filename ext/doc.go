// Package ext lets external code observe the engine's lifecycle.
//
// An extension implements [Extension] plus whichever hook interfaces it
// cares about; the [Registry] type-asserts each extension once at
// registration and fans events out to the matching hooks. Typical uses
// are metrics, webhooks toward the migration dashboard, and audit
// trails of who moved which mailbox when.
//
// A minimal extension that only watches task completion:
//
//	type auditor struct{}
//
//	func (a *auditor) Name() string { return "audit" }
//
//	func (a *auditor) OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error {
//	    log.Printf("task %s completed in %s", t.ID, elapsed)
//	    return nil
//	}
//
// Task hooks cover the full state machine: [TaskEnqueued],
// [TaskStarted], [TaskCompleted], [TaskRetrying], [TaskFailed] (retries
// exhausted), and [TaskDLQ] (buried in the dead letter queue).
//
// Workflow hooks mirror a run's life: [WorkflowStarted],
// [WorkflowStepCompleted], [WorkflowStepFailed], [WorkflowCompleted],
// and [WorkflowFailed].
//
// [CronFired] reports a schedule triggering, and [Shutdown] gives
// extensions a chance to flush before the engine stops.
package ext

// Package workflow defines typed workflow definitions, runs, step
// checkpointing, the append-only run history, and the workflow store
// interface.
//
// Workflows are durable, multi-step functions. They survive process restarts
// by checkpointing completed steps. A step that already completed is skipped
// on resume; only the failed or pending step re-executes. Every state
// transition is additionally recorded as a [HistoryEvent] so the full
// execution of a run can be audited after the fact.
//
// # Defining a Workflow
//
//	var MigrateMailbox = workflow.NewWorkflow("migrate_mailbox",
//	    func(wf *workflow.Workflow, input MailboxInput) error {
//	        if err := wf.Step("notify-start", func(ctx context.Context) error {
//	            return notifyOwner(ctx, input.SourceUser)
//	        }); err != nil {
//	            return err
//	        }
//
//	        meetings, err := workflow.ExecuteActivity[MailboxInput, []Meeting](
//	            wf, "discover_meetings", input)
//	        if err != nil {
//	            return err
//	        }
//
//	        _, err = workflow.FanOutSettled[Meeting, MigrationResult](
//	            wf, "migrate_meeting", meetings)
//	        return err
//	    },
//	)
//
// # Calling Activities and Actors
//
// [ExecuteActivity] runs a registered activity through the retrying
// executor and memoizes its result, so a resumed run never re-applies a
// result that was already recorded. [CallActor] invokes an operation on a
// keyed actor with the same memoization.
//
// # Waiting for Events
//
// A workflow can pause until an external event arrives:
//
//	payload, err := wf.WaitForEvent("mapping.refreshed", 24*time.Hour)
//
// # State Machine
//
// A [Run] moves through these states:
//
//	running → completed
//	running → failed
//	running → terminated
//
// # Key Types
//
//   - [Definition] — typed workflow descriptor with Name, Version, and Handler
//   - [Run] — a single workflow execution record
//   - [RunState] — running, completed, failed, or terminated
//   - [HistoryEvent] — one append-only record of something a run did
//   - [Registry] — maps workflow names to type-erased runner functions
package workflow

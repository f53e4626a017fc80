// Package engine wires all calshift subsystems together: the extension
// registry, task registry, middleware chain, worker pool, cron scheduler,
// the workflow/activity/actor stack, and the migration service on top.
//
// This package exists to break the import cycle: the root calshift package
// defines Entity (imported by task, workflow, etc.) and so cannot import
// those packages back. The engine package sits above all subsystem packages
// and below the application layer.
package engine

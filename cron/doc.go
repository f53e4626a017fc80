// Package cron schedules recurring tasks across a cluster.
//
// An [Entry] pairs a cron expression with a registered task name and a
// static payload; the nightly identity-mapping refresh is the canonical
// example. Entries live in the store, not in memory, so every engine
// instance sees the same schedule and an entry keeps firing after the
// instance that registered it goes away.
//
// Two locks keep firing at-most-once. Only the elected leader evaluates
// the schedule at all (see the cluster package), and each individual
// firing happens under a short-lived per-entry lock, which covers the
// window where leadership changes hands mid-tick. After a successful
// enqueue the [Scheduler] stamps LastRunAt, computes NextRunAt from the
// parsed expression, and notifies [ext.CronFired] hooks.
//
// Entries are registered through engine.RegisterCron, which validates
// the expression up front with [ParseSchedule]. The admin API can flip
// an entry's Enabled flag at runtime without removing it.
package cron

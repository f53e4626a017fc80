// Package migration implements the calendar-ownership migration on top of
// the workflow engine: batch ingestion of user tables, per-mailbox and
// per-meeting workflows, the identity-map and mailbox-config actors, and
// the activities that talk to the identity directory.
//
// A batch fans out per mailbox, each mailbox fans out per meeting, and
// every meeting migration creates the replacement before cancelling the
// source. Failures are isolated at each fan-out level: one bad mailbox or
// meeting never aborts its siblings.
package migration

package cron

import (
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/id"
)

// Entry is one recurring schedule, such as the nightly mapping refresh.
// Each firing enqueues the named task with the stored payload. LockedBy
// and LockedUntil implement the per-entry firing lock; NextRunAt is
// advanced from the schedule after every firing.
type Entry struct {
	calshift.Entity

	ID          id.CronID  `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	TaskName    string     `json:"task_name"`
	Queue       string     `json:"queue,omitempty"`
	Payload     []byte     `json:"payload,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Enabled     bool       `json:"enabled"`
}

// Due reports whether the entry should fire at the given instant.
func (e *Entry) Due(now time.Time) bool {
	return e.Enabled && e.NextRunAt != nil && !e.NextRunAt.After(now)
}

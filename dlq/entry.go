package dlq

import (
	"time"

	"github.com/calshift/calshift/id"
)

// Entry is a task frozen at the moment it exhausted its retry budget.
// It carries everything an operator needs to diagnose the failure and
// everything the replay path needs to reissue the work.
type Entry struct {
	ID         id.DLQID   `json:"id"`
	TaskID     id.TaskID  `json:"task_id"`
	TaskName   string     `json:"task_name"`
	Queue      string     `json:"queue"`
	Payload    []byte     `json:"payload"`
	Error      string     `json:"error"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Replayed reports whether the entry has already been reissued as a
// fresh task.
func (e *Entry) Replayed() bool { return e.ReplayedAt != nil }

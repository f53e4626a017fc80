// Package stream provides a real-time broker for calshift lifecycle
// events. It bridges the ext.Extension system to in-process consumers
// (dashboards, migration monitors) via topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Task events.
	EventTaskEnqueued  EventType = "task.enqueued"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskRetrying  EventType = "task.retrying"
	EventTaskDLQ       EventType = "task.dlq"

	// Workflow events.
	EventWorkflowStarted       EventType = "workflow.started"
	EventWorkflowStepCompleted EventType = "workflow.step_completed"
	EventWorkflowStepFailed    EventType = "workflow.step_failed"
	EventWorkflowCompleted     EventType = "workflow.completed"
	EventWorkflowFailed        EventType = "workflow.failed"

	// Cron events.
	EventCronFired EventType = "cron.fired"
)

// Event is the envelope sent to subscribers on a topic channel. Data
// holds the type-specific payload, still encoded.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
}

// TaskEventData is the payload for task lifecycle events.
type TaskEventData struct {
	TaskID    string `json:"task_id"`
	TaskName  string `json:"task_name"`
	Queue     string `json:"queue"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
}

// WorkflowEventData is the payload for workflow lifecycle events.
type WorkflowEventData struct {
	RunID     string `json:"run_id"`
	Name      string `json:"name"`
	StepName  string `json:"step_name,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CronEventData is the payload for cron lifecycle events.
type CronEventData struct {
	EntryName string `json:"entry_name"`
	TaskID    string `json:"task_id"`
}

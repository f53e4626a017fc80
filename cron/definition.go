package cron

// Definition declares a recurring schedule in code. T is the payload type
// enqueued on each firing and must round-trip through JSON.
type Definition[T any] struct {
	// Name uniquely identifies the cron entry.
	Name string

	// Schedule is a cron expression, e.g. "0 2 * * *" or "@every 30s".
	Schedule string

	// TaskName is the task to enqueue on each firing.
	TaskName string

	// Payload is enqueued with the task on every firing.
	Payload T

	// Queue, when set, overrides the task definition's queue.
	Queue string
}

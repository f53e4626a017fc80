package calshift

import "time"

// Config holds configuration for the Coordinator.
type Config struct {
	// Concurrency caps how many tasks run at once per instance.
	Concurrency int

	// Queues names the task queues this instance polls.
	Queues []string

	// PollInterval is the pause between empty dequeue attempts.
	PollInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight tasks
	// before cancelling them.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often a running task refreshes its
	// heartbeat stamp.
	HeartbeatInterval time.Duration

	// StaleTaskThreshold is the heartbeat silence after which a running
	// task is reclaimed. Keep it a few multiples of HeartbeatInterval.
	StaleTaskThreshold time.Duration
}

// DefaultConfig returns the defaults New starts from.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		Queues:             []string{"default"},
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleTaskThreshold: 30 * time.Second,
	}
}

package task

import "time"

// Options configures how tasks of one definition are scheduled and retried.
type Options struct {
	// MaxRetries caps retry attempts before the task lands in the DLQ.
	MaxRetries int

	// Queue names the queue the task is enqueued on. Queues isolate
	// workloads, so a flood of mailbox sweeps cannot starve cutovers.
	Queue string

	// Priority orders dequeue within a queue; higher runs first.
	Priority int

	// Timeout bounds a single execution attempt.
	Timeout time.Duration

	// RunAt defers execution until the given time. Zero means now.
	RunAt time.Time
}

// DefaultOptions returns the settings tasks get when their definition
// specifies nothing else.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Queue:      "default",
		Timeout:    5 * time.Minute,
	}
}

// Option mutates Options at definition time.
type Option func(*Options)

// WithMaxRetries caps retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithQueue routes the task to a named queue.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithPriority sets dequeue priority; higher runs first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTimeout bounds a single execution attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRunAt defers the task until t.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}

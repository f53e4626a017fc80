// Package queue defines per-queue and per-directory rate limiting for
// task execution.
//
// Queues are named channels that group related tasks. Tasks carry a Queue
// field that determines which queue they belong to. The worker pool polls
// the queues listed in [calshift.Config.Queues] (default: ["default"]).
//
// # Per-Queue Configuration
//
// Use [Config] to set per-queue rate limits and concurrency caps:
//
//	queue.Config{
//	    Name:           "migrations",
//	    MaxConcurrency: 5,      // max 5 concurrent migration tasks
//	    RateLimit:      10,     // max 10 tasks/s dequeued from this queue
//	    RateBurst:      20,     // allow bursts up to 20
//	}
//
// Pass configs when building the engine:
//
//	engine.Build(cs,
//	    engine.WithQueueConfig(
//	        queue.Config{Name: "migrations", MaxConcurrency: 20},
//	        queue.Config{Name: "bulk", RateLimit: 5, RateBurst: 10},
//	    ),
//	)
//
// # Directory Throttling
//
// Directory services impose their own API rate limits. [DirectoryConfig]
// throttles outbound calls per directory so a large migration batch does
// not trip the provider's limiter:
//
//	m.SetDirectoryConfig(queue.DirectoryConfig{
//	    DirectoryID: "source",
//	    RateLimit:   20,
//	    RateBurst:   40,
//	})
//	// before each directory API call:
//	if err := m.WaitDirectory(ctx, "source"); err != nil { ... }
//
// # Manager
//
// [Manager] enforces per-queue limits at dequeue time and per-directory
// limits at call time. It uses a token-bucket rate limiter
// (golang.org/x/time/rate) and an active-count gate for concurrency limits.
//
//	m := queue.NewManager(configs...)
//	if m.Acquire(queueName) {
//	    defer m.Release(queueName)
//	    // process the task
//	}
//
// Queues without a [Config] have no limits beyond the pool-wide concurrency.
package queue

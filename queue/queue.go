package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue behaviour such as rate limiting and concurrency.
type Config struct {
	// Name is the queue identifier and must match the task.Queue field.
	Name string

	// MaxConcurrency limits how many tasks from this queue may run at
	// once across the local worker pool. Zero means no queue-specific
	// limit; pool-wide concurrency still applies.
	MaxConcurrency int

	// RateLimit is the sustained tasks per second that may be dequeued
	// from this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1 when
	// RateLimit is set and RateBurst is zero.
	RateBurst int
}

// gate combines a token-bucket limiter with a concurrency cap and an
// in-flight counter. Both queues and directory endpoints throttle
// through one. Not self-synchronized; the Manager lock covers it.
type gate struct {
	limiter *rate.Limiter
	max     int
	active  int
}

func newGate(perSecond float64, burst, maxConcurrency int) *gate {
	g := &gate{max: maxConcurrency}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return g
}

// tryAcquire takes a rate token and a concurrency slot if both are
// available.
func (g *gate) tryAcquire() bool {
	if g.limiter != nil && !g.limiter.Allow() {
		return false
	}
	if g.max > 0 && g.active >= g.max {
		return false
	}
	g.active++
	return true
}

func (g *gate) release() {
	if g.active > 0 {
		g.active--
	}
}

// queueGate pairs a queue's config with its runtime gate.
type queueGate struct {
	config Config
	gate   gate
}

func newQueueGate(cfg Config) *queueGate {
	return &queueGate{
		config: cfg,
		gate:   *newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency),
	}
}

// Manager throttles task dispatch per queue and outbound calls per
// directory endpoint. It is safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	queues      map[string]*queueGate
	directories map[string]*gate
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:      make(map[string]*queueGate, len(configs)),
		directories: make(map[string]*gate),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueGate(cfg)
	}
	return m
}

// Acquire checks rate and concurrency limits for the queue. On success
// the in-flight counter is incremented and the caller MUST call Release
// when the task completes. Unconfigured queues always succeed.
func (m *Manager) Acquire(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qg := m.queues[queue]
	if qg == nil {
		return true
	}
	return qg.gate.tryAcquire()
}

// Release decrements the in-flight count for the queue.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qg := m.queues[queue]; qg != nil {
		qg.gate.release()
	}
}

// SetQueueConfig updates (or creates) a queue configuration at runtime.
// The in-flight count carries over so reconfiguring does not leak slots.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qg := newQueueGate(cfg)
	if existing := m.queues[cfg.Name]; existing != nil {
		qg.gate.active = existing.gate.active
	}
	m.queues[cfg.Name] = qg
}

// ActiveCount returns the number of in-flight tasks for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qg := m.queues[queue]; qg != nil {
		return qg.gate.active
	}
	return 0
}

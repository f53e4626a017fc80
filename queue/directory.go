package queue

import "context"

// DirectoryConfig defines rate limits and concurrency for outbound calls
// to one directory service. Directory providers enforce their own API
// quotas; throttling locally keeps a large migration batch from tripping
// the provider's limiter and failing mid-flight.
type DirectoryConfig struct {
	// DirectoryID identifies the directory endpoint, such as "source",
	// "target", or a provider-specific endpoint name.
	DirectoryID string

	// RateLimit is the sustained calls per second for this directory.
	RateLimit float64

	// RateBurst is the burst size for the directory's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous in-flight calls to this
	// directory. Zero means no concurrency limit.
	MaxConcurrency int
}

// SetDirectoryConfig configures throttling for a directory endpoint.
// Reconfiguring the same directory replaces the limits but carries the
// in-flight count over.
func (m *Manager) SetDirectoryConfig(cfg DirectoryConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if existing := m.directories[cfg.DirectoryID]; existing != nil {
		g.active = existing.active
	}
	m.directories[cfg.DirectoryID] = g
}

// AcquireDirectory checks rate and concurrency limits for the directory.
// On success the in-flight counter is incremented and the caller MUST
// call ReleaseDirectory when the call completes. Directories without a
// config always succeed.
func (m *Manager) AcquireDirectory(directoryID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.directories[directoryID]
	if g == nil {
		return true
	}
	return g.tryAcquire()
}

// ReleaseDirectory decrements the in-flight call count for the directory.
func (m *Manager) ReleaseDirectory(directoryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g := m.directories[directoryID]; g != nil {
		g.release()
	}
}

// WaitDirectory blocks until the directory's rate limiter permits another
// call or the context is cancelled. Unlike AcquireDirectory it does not
// count toward the concurrency gate; it is meant for callers that want
// backpressure instead of rejection, such as the directory client issuing
// API calls inside a retried activity.
func (m *Manager) WaitDirectory(ctx context.Context, directoryID string) error {
	m.mu.Lock()
	g := m.directories[directoryID]
	m.mu.Unlock()

	if g == nil || g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

// DirectoryActiveCount returns the number of in-flight calls for a
// directory endpoint.
func (m *Manager) DirectoryActiveCount(directoryID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.directories[directoryID]; g != nil {
		return g.active
	}
	return 0
}

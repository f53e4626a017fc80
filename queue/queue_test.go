package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueConcurrencyLimits(t *testing.T) {
	t.Run("slots run out at the limit", func(t *testing.T) {
		m := NewManager(Config{Name: "migrations", MaxConcurrency: 2})
		if !m.Acquire("migrations") || !m.Acquire("migrations") {
			t.Fatal("could not fill the configured slots")
		}
		if m.Acquire("migrations") {
			t.Fatal("got a third slot on a two-slot queue")
		}
		m.Release("migrations")
		if !m.Acquire("migrations") {
			t.Fatal("freed slot not reusable")
		}
	})

	t.Run("active count follows acquire and release", func(t *testing.T) {
		m := NewManager(Config{Name: "migrations", MaxConcurrency: 5})
		if m.ActiveCount("migrations") != 0 {
			t.Fatalf("fresh queue reports %d active", m.ActiveCount("migrations"))
		}
		for range 3 {
			m.Acquire("migrations")
		}
		if got := m.ActiveCount("migrations"); got != 3 {
			t.Fatalf("active = %d, want 3", got)
		}
		m.Release("migrations")
		m.Release("migrations")
		if got := m.ActiveCount("migrations"); got != 1 {
			t.Fatalf("active = %d, want 1", got)
		}
	})

	t.Run("unconfigured queues are unlimited", func(t *testing.T) {
		m := NewManager(Config{Name: "migrations", MaxConcurrency: 1})
		for range 10 {
			if !m.Acquire("sweeps") {
				t.Fatal("queue without a config refused a slot")
			}
		}
	})

	t.Run("release never drives the count negative", func(t *testing.T) {
		m := NewManager(Config{Name: "migrations", MaxConcurrency: 5})
		m.Release("migrations")
		if m.ActiveCount("migrations") != 0 {
			t.Fatal("count went below zero")
		}
	})

	t.Run("limits can be raised live", func(t *testing.T) {
		m := NewManager(Config{Name: "migrations", MaxConcurrency: 1})
		m.Acquire("migrations")
		if m.Acquire("migrations") {
			t.Fatal("got a second slot before the raise")
		}
		m.SetQueueConfig(Config{Name: "migrations", MaxConcurrency: 3})
		if !m.Acquire("migrations") {
			t.Fatal("raised limit not in effect")
		}
	})
}

func TestQueueRateLimit(t *testing.T) {
	t.Run("empty bucket refuses until refill", func(t *testing.T) {
		m := NewManager(Config{Name: "migrations", RateLimit: 1.0, RateBurst: 1})
		if !m.Acquire("migrations") {
			t.Fatal("burst token not honored")
		}
		m.Release("migrations")
		if m.Acquire("migrations") {
			t.Fatal("empty token bucket handed out a slot")
		}
		time.Sleep(1100 * time.Millisecond)
		if !m.Acquire("migrations") {
			t.Fatal("bucket did not refill")
		}
	})

	t.Run("burst covers back-to-back acquires", func(t *testing.T) {
		m := NewManager(Config{Name: "migrations", RateLimit: 10.0, RateBurst: 3})
		for i := range 3 {
			if !m.Acquire("migrations") {
				t.Fatalf("acquire %d refused inside the burst", i)
			}
			m.Release("migrations")
		}
	})
}

func TestDirectoryThrottling(t *testing.T) {
	t.Run("per-directory slots", func(t *testing.T) {
		m := NewManager()
		m.SetDirectoryConfig(DirectoryConfig{DirectoryID: "source", MaxConcurrency: 1})

		if !m.AcquireDirectory("source") {
			t.Fatal("source refused its only slot")
		}
		if m.AcquireDirectory("source") {
			t.Fatal("source handed out a second slot")
		}
		if !m.AcquireDirectory("target") {
			t.Fatal("unconfigured target was throttled")
		}
	})

	t.Run("directories do not share slots", func(t *testing.T) {
		m := NewManager()
		m.SetDirectoryConfig(DirectoryConfig{DirectoryID: "source", MaxConcurrency: 2})
		m.SetDirectoryConfig(DirectoryConfig{DirectoryID: "target", MaxConcurrency: 2})

		m.AcquireDirectory("source")
		m.AcquireDirectory("source")
		if m.AcquireDirectory("source") {
			t.Fatal("source over its limit")
		}
		if !m.AcquireDirectory("target") {
			t.Fatal("a saturated source starved the target")
		}
	})

	t.Run("active count per directory", func(t *testing.T) {
		m := NewManager()
		m.SetDirectoryConfig(DirectoryConfig{DirectoryID: "source", MaxConcurrency: 5})
		m.AcquireDirectory("source")
		m.AcquireDirectory("source")
		if got := m.DirectoryActiveCount("source"); got != 2 {
			t.Fatalf("active = %d, want 2", got)
		}
		m.ReleaseDirectory("source")
		if got := m.DirectoryActiveCount("source"); got != 1 {
			t.Fatalf("active = %d, want 1", got)
		}
	})
}

func TestWaitDirectory(t *testing.T) {
	t.Run("blocks until the bucket refills", func(t *testing.T) {
		m := NewManager()
		m.SetDirectoryConfig(DirectoryConfig{DirectoryID: "source", RateLimit: 100, RateBurst: 1})

		ctx := context.Background()
		if err := m.WaitDirectory(ctx, "source"); err != nil {
			t.Fatalf("burst wait: %v", err)
		}
		start := time.Now()
		if err := m.WaitDirectory(ctx, "source"); err != nil {
			t.Fatalf("second wait: %v", err)
		}
		// 100/s means roughly a 10ms refill.
		if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
			t.Fatalf("returned after %v without waiting for a token", elapsed)
		}
	})

	t.Run("gives up when the context does", func(t *testing.T) {
		m := NewManager()
		m.SetDirectoryConfig(DirectoryConfig{DirectoryID: "source", RateLimit: 0.01, RateBurst: 1})

		if err := m.WaitDirectory(context.Background(), "source"); err != nil {
			t.Fatalf("burst wait: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := m.WaitDirectory(ctx, "source"); err == nil {
			t.Fatal("waited past the context deadline")
		}
	})

	t.Run("unconfigured directory never blocks", func(t *testing.T) {
		m := NewManager()
		if err := m.WaitDirectory(context.Background(), "anything"); err != nil {
			t.Fatalf("wait on unthrottled directory: %v", err)
		}
	})
}

func TestManagerUnderLoad(t *testing.T) {
	m := NewManager(Config{Name: "migrations", MaxConcurrency: 50})

	var acquired atomic.Int64
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Acquire("migrations") {
				acquired.Add(1)
				time.Sleep(time.Millisecond)
				m.Release("migrations")
			}
		}()
	}
	wg.Wait()

	if acquired.Load() == 0 {
		t.Fatal("no goroutine ever got a slot")
	}
	if got := m.ActiveCount("migrations"); got != 0 {
		t.Fatalf("%d slots still held after all releases", got)
	}
}

func TestManagerWithoutConfigs(t *testing.T) {
	m := NewManager()
	if !m.Acquire("anything") {
		t.Fatal("manager with no configs refused a slot")
	}
	m.Release("anything")
}

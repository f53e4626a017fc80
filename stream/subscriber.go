package stream

import (
	"sync"
	"sync/atomic"
)

// topicSet tracks which topics a subscriber belongs to.
type topicSet struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

func (ts *topicSet) add(name string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.set == nil {
		ts.set = make(map[string]struct{})
	}
	ts.set[name] = struct{}{}
}

func (ts *topicSet) remove(name string) {
	ts.mu.Lock()
	delete(ts.set, name)
	ts.mu.Unlock()
}

func (ts *topicSet) names() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]string, 0, len(ts.set))
	for name := range ts.set {
		out = append(out, name)
	}
	return out
}

// Subscriber is one consumer of broker events, typically a dashboard or
// migration monitor session. Delivery is flow-controlled by credits: the
// consumer grants credits as it processes events, and the broker skips the
// subscriber once they run out. A slow consumer therefore loses events
// instead of stalling the publishing hook.
type Subscriber struct {
	id string
	ch chan *Event

	credits     atomic.Int64
	closed      atomic.Bool
	memberships topicSet

	// filter, when set, drops events the predicate rejects.
	filter func(*Event) bool
}

// NewSubscriber creates a subscriber with the given channel buffer and
// initial credit grant.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id: id,
		ch: make(chan *Event, bufferSize),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits replenishes flow-control credits.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the current credit count.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// SetFilter installs an event predicate. Call before subscribing; the
// field is not synchronized against concurrent sends.
func (s *Subscriber) SetFilter(fn func(*Event) bool) { s.filter = fn }

// Topics returns the names of all topics this subscriber is on.
func (s *Subscriber) Topics() []string { return s.memberships.names() }

func (s *Subscriber) addTopic(topic string)    { s.memberships.add(topic) }
func (s *Subscriber) removeTopic(topic string) { s.memberships.remove(topic) }

// send attempts delivery and reports whether the event landed. It returns
// false when the event is dropped: subscriber closed, filter mismatch,
// credits exhausted, or a full buffer.
func (s *Subscriber) send(evt *Event) bool {
	if s.closed.Load() {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}
	if !s.debitCredit() {
		return false
	}

	select {
	case s.ch <- evt:
		return true
	default:
		// Buffer full; refund the debit since nothing was delivered.
		s.credits.Add(1)
		return false
	}
}

// debitCredit consumes one flow-control credit if any remain.
func (s *Subscriber) debitCredit() bool {
	for {
		current := s.credits.Load()
		if current <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Closed reports whether the subscriber has been closed.
func (s *Subscriber) Closed() bool {
	return s.closed.Load()
}

package directory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Memory is an in-memory Client used by tests and local development.
// Users are keyed by principal name (case-insensitive) and by ID.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*User   // lower(principalName) -> user
	byID     map[string]*User   // id -> user
	meetings map[string]Meeting // meeting ID -> meeting
	seq      atomic.Int64
}

var _ Client = (*Memory)(nil)

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*User),
		byID:     make(map[string]*User),
		meetings: make(map[string]Meeting),
	}
}

// AddUser registers a user. If the user has no ID one is assigned.
func (m *Memory) AddUser(u User) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = fmt.Sprintf("user-%d", m.seq.Add(1))
	}
	stored := u
	m.users[strings.ToLower(u.PrincipalName)] = &stored
	m.byID[u.ID] = &stored
	return &stored
}

// AddMeeting registers an existing meeting. If it has no ID one is assigned.
func (m *Memory) AddMeeting(mt Meeting) Meeting {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mt.ID == "" {
		mt.ID = fmt.Sprintf("meeting-%d", m.seq.Add(1))
	}
	m.meetings[mt.ID] = mt
	return mt
}

func (m *Memory) GetUser(_ context.Context, identity string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[strings.ToLower(identity)]; ok {
		copied := *u
		return &copied, nil
	}
	if u, ok := m.byID[identity]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, fmt.Errorf("user %q: %w", identity, ErrNotFound)
}

func (m *Memory) ListOrganizedMeetings(_ context.Context, principalName string, filter Filter) ([]Meeting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.users[strings.ToLower(principalName)]; !ok {
		return nil, fmt.Errorf("user %q: %w", principalName, ErrNotFound)
	}
	var out []Meeting
	for _, mt := range m.meetings {
		if !strings.EqualFold(mt.Organizer, principalName) || !mt.IsOrganizer {
			continue
		}
		if filter.Matches(mt) {
			out = append(out, mt)
		}
	}
	return out, nil
}

func (m *Memory) CreateMeeting(_ context.Context, spec MeetingSpec) (*Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt := Meeting{
		ID:              fmt.Sprintf("meeting-%d", m.seq.Add(1)),
		Subject:         spec.Subject,
		Organizer:       spec.Organizer,
		Attendees:       append([]string(nil), spec.Attendees...),
		Start:           spec.Start,
		End:             spec.End,
		IsOnlineMeeting: true,
		IsOrganizer:     true,
		JoinURL:         fmt.Sprintf("https://meet.example.com/%d", m.seq.Load()),
	}
	m.meetings[mt.ID] = mt
	return &mt, nil
}

func (m *Memory) CancelMeeting(_ context.Context, organizer, meetingID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.meetings[meetingID]
	if !ok {
		return fmt.Errorf("meeting %q: %w", meetingID, ErrNotFound)
	}
	if !strings.EqualFold(mt.Organizer, organizer) {
		return fmt.Errorf("meeting %q is not organized by %q", meetingID, organizer)
	}
	mt.IsCancelled = true
	m.meetings[meetingID] = mt
	return nil
}

// Meetings returns a snapshot of all meetings, for test assertions.
func (m *Memory) Meetings() []Meeting {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Meeting, 0, len(m.meetings))
	for _, mt := range m.meetings {
		out = append(out, mt)
	}
	return out
}

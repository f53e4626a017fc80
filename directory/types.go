package directory

import (
	"strings"
	"time"
)

// User is a directory identity. PrincipalName is the stable login name
// (UPN) the migration tables key on; ID is the directory's internal
// object identifier.
type User struct {
	ID            string `json:"id"`
	PrincipalName string `json:"principalName"`
	DisplayName   string `json:"displayName,omitempty"`
	Mail          string `json:"mail,omitempty"`
}

// Meeting is a calendar event as the directory reports it. Organizer and
// Attendees are principal names. IsOrganizer reflects whether the user the
// meeting was listed for is its organizer.
type Meeting struct {
	ID              string    `json:"id"`
	Subject         string    `json:"subject"`
	Organizer       string    `json:"organizer"`
	Attendees       []string  `json:"attendees"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	IsOnlineMeeting bool      `json:"isOnlineMeeting"`
	IsCancelled     bool      `json:"isCancelled"`
	IsOrganizer     bool      `json:"isOrganizer"`
	JoinURL         string    `json:"joinUrl,omitempty"`
}

// MeetingSpec describes a meeting to create. Scheduling fields are copied
// from the source meeting; Organizer and Attendees carry the remapped
// principal names.
type MeetingSpec struct {
	Subject   string    `json:"subject"`
	Organizer string    `json:"organizer"`
	Attendees []string  `json:"attendees"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// Filter narrows a meeting listing. Zero fields are ignored.
type Filter struct {
	Organizer       string    `json:"organizer,omitempty"`
	StartAfter      time.Time `json:"startAfter,omitempty"`
	OnlineOnly      bool      `json:"onlineOnly,omitempty"`
	ExcludeCancelled bool     `json:"excludeCancelled,omitempty"`
}

// Matches reports whether m passes every constraint set on f.
func (f Filter) Matches(m Meeting) bool {
	if f.Organizer != "" && !strings.EqualFold(m.Organizer, f.Organizer) {
		return false
	}
	if !f.StartAfter.IsZero() && !m.Start.After(f.StartAfter) {
		return false
	}
	if f.OnlineOnly && !m.IsOnlineMeeting {
		return false
	}
	if f.ExcludeCancelled && m.IsCancelled {
		return false
	}
	return true
}

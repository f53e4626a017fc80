package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an identity or meeting does not exist in
// the directory. Activities translate it into a permanent failure so the
// executor does not retry it.
var ErrNotFound = errors.New("directory: not found")

// Client is the surface the migration activities need from an identity
// directory. Implementations must be safe for concurrent use.
type Client interface {
	// GetUser resolves an identity by principal name or object ID.
	GetUser(ctx context.Context, identity string) (*User, error)

	// ListOrganizedMeetings returns the meetings organized by the given
	// user that match the filter.
	ListOrganizedMeetings(ctx context.Context, principalName string, filter Filter) ([]Meeting, error)

	// CreateMeeting creates a new online meeting and returns it.
	CreateMeeting(ctx context.Context, spec MeetingSpec) (*Meeting, error)

	// CancelMeeting cancels a meeting on behalf of its organizer, with a
	// comment shown to attendees.
	CancelMeeting(ctx context.Context, organizer, meetingID, reason string) error
}

package engine

import (
	"context"

	"github.com/calshift/calshift/directory"
	"github.com/calshift/calshift/queue"
)

// throttledDirectory wraps a directory client so every call first waits
// for the directory's rate limiter. Keeps bulk migrations inside the
// directory API's request budget.
type throttledDirectory struct {
	inner       directory.Client
	qm          *queue.Manager
	directoryID string
}

var _ directory.Client = (*throttledDirectory)(nil)

func newThrottledDirectory(inner directory.Client, qm *queue.Manager, directoryID string) *throttledDirectory {
	return &throttledDirectory{inner: inner, qm: qm, directoryID: directoryID}
}

func (t *throttledDirectory) GetUser(ctx context.Context, identity string) (*directory.User, error) {
	if err := t.qm.WaitDirectory(ctx, t.directoryID); err != nil {
		return nil, err
	}
	return t.inner.GetUser(ctx, identity)
}

func (t *throttledDirectory) ListOrganizedMeetings(ctx context.Context, principalName string, filter directory.Filter) ([]directory.Meeting, error) {
	if err := t.qm.WaitDirectory(ctx, t.directoryID); err != nil {
		return nil, err
	}
	return t.inner.ListOrganizedMeetings(ctx, principalName, filter)
}

func (t *throttledDirectory) CreateMeeting(ctx context.Context, spec directory.MeetingSpec) (*directory.Meeting, error) {
	if err := t.qm.WaitDirectory(ctx, t.directoryID); err != nil {
		return nil, err
	}
	return t.inner.CreateMeeting(ctx, spec)
}

func (t *throttledDirectory) CancelMeeting(ctx context.Context, organizer, meetingID, reason string) error {
	if err := t.qm.WaitDirectory(ctx, t.directoryID); err != nil {
		return err
	}
	return t.inner.CancelMeeting(ctx, organizer, meetingID, reason)
}

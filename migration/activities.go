package migration

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/calshift/calshift/activity"
	"github.com/calshift/calshift/directory"
	"github.com/calshift/calshift/event"
	"github.com/calshift/calshift/notify"
)

// Activity names used by the migration workflows.
const (
	ActivityGetUser       = "get-user"
	ActivityListMeetings  = "list-organized-meetings"
	ActivityCreateMeeting = "create-meeting"
	ActivityCancelMeeting = "cancel-meeting"
	ActivitySendNotice    = "send-notice"
	ActivityCountMeetings = "count-meetings"
	ActivityPublishEvent  = "publish-event"
)

// CancelReason is the comment attached to cancelled source meetings.
const CancelReason = "Cancelled by migration daemon"

// ListMeetingsInput scopes a meeting listing to one organizer and cutoff.
type ListMeetingsInput struct {
	PrincipalName string    `json:"principalName"`
	Cutoff        time.Time `json:"cutoff"`
}

// CancelMeetingInput identifies a source meeting to cancel.
type CancelMeetingInput struct {
	Organizer string `json:"organizer"`
	MeetingID string `json:"meetingId"`
}

// NoticeInput is one user-facing notice to deliver.
type NoticeInput struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// PublishEventInput carries a bus event to publish from a workflow.
type PublishEventInput struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Activities binds the migration activity handlers to their backing
// services: the identity directory, the notifier and the event bus.
type Activities struct {
	client   directory.Client
	notifier notify.Notifier
	bus      *event.Bus
}

// NewActivities creates the activity set. bus may be nil when no event
// publication is wanted; the publish-event activity then fails permanently.
func NewActivities(client directory.Client, notifier notify.Notifier, bus *event.Bus) *Activities {
	return &Activities{client: client, notifier: notifier, bus: bus}
}

// Register registers every migration activity on r.
func (a *Activities) Register(r *activity.Registry) {
	directoryPolicy := activity.RetryPolicy{
		MaxAttempts:       4,
		InitialInterval:   500 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxInterval:       10 * time.Second,
	}

	activity.RegisterDefinition(r, activity.NewDefinition(ActivityGetUser,
		func(ctx context.Context, identity string) (*directory.User, error) {
			u, err := a.client.GetUser(ctx, identity)
			return u, classify(err)
		},
		activity.WithRetryPolicy(directoryPolicy),
	))

	activity.RegisterDefinition(r, activity.NewDefinition(ActivityListMeetings,
		func(ctx context.Context, in ListMeetingsInput) ([]directory.Meeting, error) {
			meetings, err := a.client.ListOrganizedMeetings(ctx, in.PrincipalName, directory.Filter{
				StartAfter:       in.Cutoff,
				OnlineOnly:       true,
				ExcludeCancelled: true,
			})
			return meetings, classify(err)
		},
		activity.WithRetryPolicy(directoryPolicy),
	))

	activity.RegisterDefinition(r, activity.NewDefinition(ActivityCreateMeeting,
		func(ctx context.Context, spec directory.MeetingSpec) (*directory.Meeting, error) {
			m, err := a.client.CreateMeeting(ctx, spec)
			return m, classify(err)
		},
		activity.WithRetryPolicy(directoryPolicy),
	))

	activity.RegisterDefinition(r, activity.NewDefinition(ActivityCancelMeeting,
		func(ctx context.Context, in CancelMeetingInput) (string, error) {
			if err := a.client.CancelMeeting(ctx, in.Organizer, in.MeetingID, CancelReason); err != nil {
				return "", classify(err)
			}
			return in.MeetingID, nil
		},
		activity.WithRetryPolicy(directoryPolicy),
	))

	activity.RegisterDefinition(r, activity.NewDefinition(ActivitySendNotice,
		func(ctx context.Context, in NoticeInput) (bool, error) {
			if err := a.notifier.Send(ctx, in.Recipient, in.Subject, in.Body); err != nil {
				return false, err
			}
			return true, nil
		},
		activity.WithRetryPolicy(activity.RetryPolicy{
			MaxAttempts:     2,
			InitialInterval: time.Second,
		}),
	))

	activity.RegisterDefinition(r, activity.NewDefinition(ActivityCountMeetings,
		func(ctx context.Context, in ListMeetingsInput) (int, error) {
			meetings, err := a.client.ListOrganizedMeetings(ctx, in.PrincipalName, directory.Filter{
				StartAfter:       in.Cutoff,
				OnlineOnly:       true,
				ExcludeCancelled: true,
			})
			if err != nil {
				return 0, classify(err)
			}
			return len(meetings), nil
		},
		activity.WithRetryPolicy(directoryPolicy),
	))

	activity.RegisterDefinition(r, activity.NewDefinition(ActivityPublishEvent,
		func(ctx context.Context, in PublishEventInput) (string, error) {
			if a.bus == nil {
				return "", activity.Permanent(errors.New("migration: event bus not configured"))
			}
			evt, err := a.bus.Publish(ctx, in.Name, in.Payload)
			if err != nil {
				return "", err
			}
			return evt.ID.String(), nil
		},
	))
}

// classify maps directory lookup misses to permanent failures; everything
// else stays transient and retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, directory.ErrNotFound) {
		return activity.Permanent(err)
	}
	return err
}

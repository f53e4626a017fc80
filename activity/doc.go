// Package activity provides short-lived, retryable units of work invoked
// from workflows.
//
// An activity is a named function that takes a JSON-serializable input and
// returns a JSON-serializable output. Unlike workflow handlers, activity
// handlers may perform arbitrary side effects (directory API calls,
// notifications, database writes). The workflow engine memoizes activity
// results, so a completed activity is never re-executed during replay.
//
// # Defining Activities
//
//	createMeeting := activity.NewDefinition("create-meeting",
//	    func(ctx context.Context, spec MeetingSpec) (Meeting, error) {
//	        return dir.CreateMeeting(ctx, spec)
//	    },
//	    activity.WithRetryPolicy(activity.RetryPolicy{
//	        MaxAttempts:       5,
//	        InitialInterval:   time.Second,
//	        BackoffMultiplier: 2,
//	        MaxInterval:       time.Minute,
//	    }),
//	)
//
//	reg := activity.NewRegistry()
//	activity.RegisterDefinition(reg, createMeeting)
//
// # Error Classification
//
// Failures are transient by default and retried per the activity's
// [RetryPolicy]. Wrap an error with [Permanent] to stop retrying
// immediately:
//
//	return Meeting{}, activity.Permanent(fmt.Errorf("mailbox %q not found", addr))
package activity

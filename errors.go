package calshift

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("calshift: no store configured")
	ErrStoreClosed     = errors.New("calshift: store closed")
	ErrMigrationFailed = errors.New("calshift: migration failed")

	// Not found errors.
	ErrTaskNotFound     = errors.New("calshift: task not found")
	ErrActivityNotFound = errors.New("calshift: activity not found")
	ErrRunNotFound      = errors.New("calshift: run not found")
	ErrActorNotFound    = errors.New("calshift: actor not found")
	ErrCronNotFound     = errors.New("calshift: cron entry not found")
	ErrDLQNotFound      = errors.New("calshift: dlq entry not found")
	ErrEventNotFound    = errors.New("calshift: event not found")
	ErrWorkerNotFound   = errors.New("calshift: worker not found")

	// Conflict errors.
	ErrTaskAlreadyExists = errors.New("calshift: task already exists")
	ErrRunAlreadyExists  = errors.New("calshift: run already exists")
	ErrDuplicateCron     = errors.New("calshift: duplicate cron entry")

	// State errors.
	ErrInvalidState       = errors.New("calshift: invalid state transition")
	ErrRunTerminated      = errors.New("calshift: run terminated")
	ErrMaxRetriesExceeded = errors.New("calshift: max retries exceeded")

	// Cluster errors.
	ErrLeadershipLost = errors.New("calshift: leadership lost")
	ErrNotLeader      = errors.New("calshift: not the leader")
)

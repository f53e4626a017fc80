package actor

import "context"

// Store defines the persistence contract for actor state.
type Store interface {
	// GetActor retrieves the actor instance for (kind, key).
	// Returns calshift.ErrActorNotFound if it does not exist.
	GetActor(ctx context.Context, kind, key string) (*Instance, error)

	// SaveActor upserts an actor instance.
	SaveActor(ctx context.Context, inst *Instance) error

	// ListActors returns all instances of the given kind.
	ListActors(ctx context.Context, kind string) ([]*Instance, error)

	// DeleteActor removes the actor instance for (kind, key).
	DeleteActor(ctx context.Context, kind, key string) error

	// AppendActorOp appends one entry to an actor's operation log.
	AppendActorOp(ctx context.Context, rec *OpRecord) error

	// ListActorOps returns the operation log for (kind, key) in append
	// order. An actor with no invokes has an empty log, not an error.
	ListActorOps(ctx context.Context, kind, key string) ([]*OpRecord, error)
}

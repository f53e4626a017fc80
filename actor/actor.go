package actor

import (
	"time"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/id"
)

// Instance is the stored state of a single actor, addressed by (Kind, Key).
type Instance struct {
	calshift.Entity

	ID      id.ActorID `json:"id"`
	Kind    string     `json:"kind"`
	Key     string     `json:"key"`
	State   []byte     `json:"state,omitempty"`
	Version int64      `json:"version"`
}

// OpRecord is one entry in an actor's operation log. Every invoke appends
// one, so the log is an audit trail of what touched the actor and when.
// Version is the state version the invoke produced.
type OpRecord struct {
	Kind      string    `json:"kind"`
	Key       string    `json:"key"`
	Op        string    `json:"op"`
	Version   int64     `json:"version"`
	InvokedAt time.Time `json:"invoked_at"`
}

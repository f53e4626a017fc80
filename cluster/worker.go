package cluster

import (
	"time"

	"github.com/calshift/calshift/id"
)

// WorkerState is a worker's place in its lifecycle. Transitions run
// Active → Draining → Dead; there is no way back from Dead other than
// re-registering.
type WorkerState string

const (
	// WorkerActive workers heartbeat and claim tasks.
	WorkerActive WorkerState = "active"
	// WorkerDraining workers finish what they hold but claim nothing new.
	WorkerDraining WorkerState = "draining"
	// WorkerDead workers missed the heartbeat threshold; their tasks
	// are up for reassignment.
	WorkerDead WorkerState = "dead"
)

// Worker represents a calshift worker instance in a cluster.
type Worker struct {
	ID          id.WorkerID `json:"id"`
	Hostname    string      `json:"hostname"`
	Queues      []string    `json:"queues"`
	Concurrency int         `json:"concurrency"`
	State       WorkerState `json:"state"`
	IsLeader    bool        `json:"is_leader"`
	LeaderUntil *time.Time  `json:"leader_until,omitempty"`
	LastSeen    time.Time   `json:"last_seen"`
	CreatedAt   time.Time   `json:"created_at"`
}

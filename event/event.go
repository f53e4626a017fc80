package event

import (
	"time"

	"github.com/calshift/calshift/id"
)

// Event is a named signal delivered through the bus. A migration run
// parked on WaitForEvent resumes when one with a matching name is
// published; the Acked flag enforces at-most-once delivery.
type Event struct {
	ID        id.EventID `json:"id"`
	Name      string     `json:"name"`
	Payload   []byte     `json:"payload,omitempty"`
	Acked     bool       `json:"acked"`
	CreatedAt time.Time  `json:"created_at"`
}

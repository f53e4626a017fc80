package workflow

import (
	"time"

	"github.com/calshift/calshift/id"
)

// HistoryEventKind identifies what a history event records.
type HistoryEventKind string

const (
	// HistoryOrchestratorStarted marks the start (or restart) of a run.
	HistoryOrchestratorStarted HistoryEventKind = "orchestrator_started"
	// HistoryTaskScheduled marks an activity invocation being dispatched.
	HistoryTaskScheduled HistoryEventKind = "task_scheduled"
	// HistoryTaskCompleted marks an activity invocation that succeeded.
	// Data holds the serialized activity result.
	HistoryTaskCompleted HistoryEventKind = "task_completed"
	// HistoryTaskFailed marks an activity invocation that failed after
	// all retries. Data holds the error message.
	HistoryTaskFailed HistoryEventKind = "task_failed"
	// HistorySubOrchestrationScheduled marks a child workflow being started.
	HistorySubOrchestrationScheduled HistoryEventKind = "sub_orchestration_scheduled"
	// HistorySubOrchestrationCompleted marks a child workflow finishing,
	// successfully or not. Data holds the child run's terminal state.
	HistorySubOrchestrationCompleted HistoryEventKind = "sub_orchestration_completed"
	// HistoryTimerFired marks a durable sleep elapsing.
	HistoryTimerFired HistoryEventKind = "timer_fired"
	// HistoryActorCallCompleted marks an actor operation returning.
	HistoryActorCallCompleted HistoryEventKind = "actor_call_completed"
	// HistoryExecutionCompleted marks the run reaching a terminal state.
	// Data holds the terminal RunState.
	HistoryExecutionCompleted HistoryEventKind = "execution_completed"
)

// HistoryEvent is one append-only record in a run's execution history.
// History is never rewritten: replays that hit a checkpoint do not append
// duplicate events, so each logical action appears exactly once.
type HistoryEvent struct {
	ID        id.HistoryID     `json:"id"`
	RunID     id.RunID         `json:"run_id"`
	Kind      HistoryEventKind `json:"kind"`
	Name      string           `json:"name,omitempty"`
	Data      []byte           `json:"data,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewHistoryEvent builds a history event for the given run.
func NewHistoryEvent(runID id.RunID, kind HistoryEventKind, name string, data []byte) *HistoryEvent {
	return &HistoryEvent{
		ID:        id.NewHistoryID(),
		RunID:     runID,
		Kind:      kind,
		Name:      name,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

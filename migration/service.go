package migration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/workflow"
)

// Service is the submission facade the API layer talks to. Tables are
// validated before anything is enqueued, so a malformed batch is rejected
// whole with the offending line indexes and no workflow run exists for it.
type Service struct {
	runner *workflow.Runner
	store  workflow.Store
	logger *slog.Logger
}

// NewService creates the migration service.
func NewService(runner *workflow.Runner, store workflow.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runner: runner, store: store, logger: logger}
}

// SubmitBatch validates the user table and starts a migrate-batch run.
// The run executes in the background; the returned Run carries the ID to
// poll through Status while mailboxes are still in flight. A
// *ValidationError is returned without side effects when any row is
// malformed.
func (s *Service) SubmitBatch(ctx context.Context, table string) (*workflow.Run, error) {
	rows, err := ParseUserTable(table)
	if err != nil {
		return nil, err
	}
	s.logger.Info("submitting migration batch", slog.Int("mailboxes", len(rows)))
	return workflow.Spawn(ctx, s.runner, WorkflowMigrateBatch, BatchInput{Table: table})
}

// SubmitCount validates the user table and starts a count-batch run. It
// reads meeting counts only; nothing is created or cancelled.
func (s *Service) SubmitCount(ctx context.Context, table string) (*workflow.Run, error) {
	rows, err := ParseUserTable(table)
	if err != nil {
		return nil, err
	}
	s.logger.Info("submitting meeting count", slog.Int("mailboxes", len(rows)))
	return workflow.Spawn(ctx, s.runner, WorkflowCountBatch, BatchInput{Table: table})
}

// RefreshMapping validates the mapping table and starts a refresh-mapping
// run that replaces the identity map wholesale.
func (s *Service) RefreshMapping(ctx context.Context, table string) (*workflow.Run, error) {
	rows, err := ParseMappingTable(table)
	if err != nil {
		return nil, err
	}
	s.logger.Info("submitting mapping refresh", slog.Int("entries", len(rows)))
	return workflow.Spawn(ctx, s.runner, WorkflowRefreshMapping, MappingInput{Table: table})
}

// Terminate stops a running instance and everything it would still
// schedule.
func (s *Service) Terminate(ctx context.Context, runID id.RunID, reason string) error {
	return s.runner.Terminate(ctx, runID, reason)
}

// ChildStatus is one child run's state within an instance status.
type ChildStatus struct {
	RunID id.RunID          `json:"runId"`
	Name  string            `json:"name"`
	State workflow.RunState `json:"state"`
	Error string            `json:"error,omitempty"`
}

// InstanceStatus is a run together with its direct children's states.
type InstanceStatus struct {
	Run      *workflow.Run `json:"run"`
	Children []ChildStatus `json:"children,omitempty"`
}

// Status fetches a run and the states of its direct children.
func (s *Service) Status(ctx context.Context, runID id.RunID) (*InstanceStatus, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("migration: get run %s: %w", runID, err)
	}

	children, err := s.store.ListChildRuns(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("migration: list children of %s: %w", runID, err)
	}

	status := &InstanceStatus{Run: run}
	for _, child := range children {
		status.Children = append(status.Children, ChildStatus{
			RunID: child.ID,
			Name:  child.Name,
			State: child.State,
			Error: child.Error,
		})
	}
	return status, nil
}

// History returns the ordered history of a run.
func (s *Service) History(ctx context.Context, runID id.RunID) ([]*workflow.HistoryEvent, error) {
	return s.runner.History(ctx, runID)
}

package client

import (
	"context"

	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/migration"
	"github.com/calshift/calshift/workflow"
)

// tableRequest carries a raw comma-separated batch table.
type tableRequest struct {
	Table string `json:"table"`
}

// terminateRequest carries the operator's reason for stopping a run.
type terminateRequest struct {
	Reason string `json:"reason"`
}

// SubmitBatch submits a migration batch table and returns the started
// run. A malformed table is rejected with an *APIError whose Lines field
// names the bad row indexes.
func (c *Client) SubmitBatch(ctx context.Context, table string) (*workflow.Run, error) {
	var run workflow.Run
	if err := c.post(ctx, "/v1/migrations", tableRequest{Table: table}, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// SubmitCount submits a batch table for a read-only meeting count run.
func (c *Client) SubmitCount(ctx context.Context, table string) (*workflow.Run, error) {
	var run workflow.Run
	if err := c.post(ctx, "/v1/meeting-counts", tableRequest{Table: table}, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RefreshMapping replaces the server's identity map from the submitted
// table and returns the refresh run.
func (c *Client) RefreshMapping(ctx context.Context, table string) (*workflow.Run, error) {
	var run workflow.Run
	if err := c.post(ctx, "/v1/mappings/refresh", tableRequest{Table: table}, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// MigrationStatus fetches a migration run together with its per-user
// child runs.
func (c *Client) MigrationStatus(ctx context.Context, runID id.RunID) (*migration.InstanceStatus, error) {
	var status migration.InstanceStatus
	if err := c.get(ctx, "/v1/migrations/"+runID.String(), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// TerminateMigration stops a running migration with the given reason.
func (c *Client) TerminateMigration(ctx context.Context, runID id.RunID, reason string) error {
	return c.post(ctx, "/v1/migrations/"+runID.String()+"/terminate", terminateRequest{Reason: reason}, nil)
}

// MigrationHistory fetches the ordered history events of a migration run.
func (c *Client) MigrationHistory(ctx context.Context, runID id.RunID) ([]*workflow.HistoryEvent, error) {
	var events []*workflow.HistoryEvent
	if err := c.get(ctx, "/v1/migrations/"+runID.String()+"/history", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

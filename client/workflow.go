package client

import (
	"context"
	"net/url"
	"strconv"

	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/workflow"
)

// ListRunsOptions filter the run listing. Zero values are omitted.
type ListRunsOptions struct {
	State  workflow.RunState
	Name   string
	Limit  int
	Offset int
}

// ListRuns lists workflow runs matching the given options.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOptions) ([]*workflow.Run, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", string(opts.State))
	}
	if opts.Name != "" {
		q.Set("name", opts.Name)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var runs []*workflow.Run
	if err := c.get(ctx, "/v1/runs", q, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun fetches a single workflow run by ID.
func (c *Client) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	var run workflow.Run
	if err := c.get(ctx, "/v1/runs/"+runID.String(), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

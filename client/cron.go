package client

import (
	"context"

	"github.com/calshift/calshift/cluster"
	"github.com/calshift/calshift/cron"
	"github.com/calshift/calshift/id"
)

// ListCrons lists all registered cron entries.
func (c *Client) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	var entries []*cron.Entry
	if err := c.get(ctx, "/v1/crons", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// EnableCron enables a cron entry and returns its updated state.
func (c *Client) EnableCron(ctx context.Context, cronID id.CronID) (*cron.Entry, error) {
	return c.setCronEnabled(ctx, cronID, "enable")
}

// DisableCron disables a cron entry. The entry stays registered but the
// scheduler skips it until re-enabled.
func (c *Client) DisableCron(ctx context.Context, cronID id.CronID) (*cron.Entry, error) {
	return c.setCronEnabled(ctx, cronID, "disable")
}

func (c *Client) setCronEnabled(ctx context.Context, cronID id.CronID, action string) (*cron.Entry, error) {
	var entry cron.Entry
	if err := c.post(ctx, "/v1/crons/"+cronID.String()+"/"+action, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Stats summarizes the cluster and task backlog as reported by the server.
type Stats struct {
	Tasks   TaskCounts        `json:"tasks"`
	DLQ     int64             `json:"dlq"`
	Workers []*cluster.Worker `json:"workers"`
}

// GetStats fetches cluster-wide statistics.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

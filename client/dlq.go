package client

import (
	"context"
	"net/url"
	"strconv"

	"github.com/calshift/calshift/dlq"
	"github.com/calshift/calshift/id"
)

// ListDLQOptions filter the dead letter queue listing.
type ListDLQOptions struct {
	Queue  string
	Limit  int
	Offset int
}

// ListDLQ lists dead letter entries, newest failures first.
func (c *Client) ListDLQ(ctx context.Context, opts ListDLQOptions) ([]*dlq.Entry, error) {
	q := url.Values{}
	if opts.Queue != "" {
		q.Set("queue", opts.Queue)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var entries []*dlq.Entry
	if err := c.get(ctx, "/v1/dlq", q, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetDLQ fetches a single dead letter entry by ID.
func (c *Client) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var entry dlq.Entry
	if err := c.get(ctx, "/v1/dlq/"+entryID.String(), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ReplayDLQ re-enqueues a dead-lettered task for another attempt.
func (c *Client) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	return c.post(ctx, "/v1/dlq/"+entryID.String()+"/replay", nil, nil)
}

// CountDLQ returns the number of entries in the dead letter queue.
func (c *Client) CountDLQ(ctx context.Context) (int64, error) {
	var body struct {
		Count int64 `json:"count"`
	}
	if err := c.get(ctx, "/v1/dlq/count", nil, &body); err != nil {
		return 0, err
	}
	return body.Count, nil
}

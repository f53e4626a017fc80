package client

import (
	"context"
	"net/url"
	"strconv"

	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
)

// ListTasksOptions filter the task listing. Zero values are omitted and
// the server defaults apply (pending state, limit 100).
type ListTasksOptions struct {
	State  task.State
	Queue  string
	Limit  int
	Offset int
}

// TaskCounts reports task counts per state, optionally scoped to one queue.
type TaskCounts struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Retrying  int64 `json:"retrying"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// ListTasks lists tasks matching the given options.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) ([]*task.Task, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", string(opts.State))
	}
	if opts.Queue != "" {
		q.Set("queue", opts.Queue)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var tasks []*task.Task
	if err := c.get(ctx, "/v1/tasks", q, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches a single task by ID.
func (c *Client) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	var t task.Task
	if err := c.get(ctx, "/v1/tasks/"+taskID.String(), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTaskCounts fetches task counts per state. An empty queue counts
// across all queues.
func (c *Client) GetTaskCounts(ctx context.Context, queue string) (TaskCounts, error) {
	q := url.Values{}
	if queue != "" {
		q.Set("queue", queue)
	}
	var counts TaskCounts
	if err := c.get(ctx, "/v1/tasks/counts", q, &counts); err != nil {
		return TaskCounts{}, err
	}
	return counts, nil
}

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/task"
)

// TaskCountsResponse reports task counts per state.
type TaskCountsResponse struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Retrying  int64 `json:"retrying"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := task.State(q.Get("state"))
	if state == "" {
		state = task.StatePending
	}

	tasks, err := a.store.ListTasksByState(r.Context(), state, task.ListOpts{
		Limit:  queryInt(q.Get("limit"), 100),
		Offset: queryInt(q.Get("offset"), 0),
		Queue:  q.Get("queue"),
	})
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, tasks)
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := id.ParseTaskID(chi.URLParam(r, "taskID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid task ID: %w", err))
		return
	}

	t, err := a.store.GetTask(r.Context(), taskID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, t)
}

func (a *API) taskCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := a.taskCountsFor(r, r.URL.Query().Get("queue"))
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, counts)
}

func (a *API) taskCountsFor(r *http.Request, queue string) (TaskCountsResponse, error) {
	var counts TaskCountsResponse
	for _, pair := range []struct {
		state task.State
		dst   *int64
	}{
		{task.StatePending, &counts.Pending},
		{task.StateRunning, &counts.Running},
		{task.StateRetrying, &counts.Retrying},
		{task.StateCompleted, &counts.Completed},
		{task.StateFailed, &counts.Failed},
	} {
		n, err := a.store.CountTasks(r.Context(), task.CountOpts{State: pair.state, Queue: queue})
		if err != nil {
			return counts, err
		}
		*pair.dst = n
	}
	return counts, nil
}

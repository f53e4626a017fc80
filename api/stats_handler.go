package api

import (
	"net/http"

	"github.com/calshift/calshift/cluster"
)

// StatsResponse summarizes the cluster and task backlog.
type StatsResponse struct {
	Tasks   TaskCountsResponse `json:"tasks"`
	DLQ     int64              `json:"dlq"`
	Workers []*cluster.Worker  `json:"workers"`
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.taskCountsFor(r, "")
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	dlqCount, err := a.store.CountDLQ(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	workers, err := a.store.ListWorkers(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	a.writeJSON(w, http.StatusOK, StatsResponse{
		Tasks:   counts,
		DLQ:     dlqCount,
		Workers: workers,
	})
}

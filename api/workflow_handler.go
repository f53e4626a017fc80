package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/workflow"
)

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := workflow.ListOpts{
		State: workflow.RunState(q.Get("state")),
		Name:  q.Get("name"),
		Limit: queryInt(q.Get("limit"), 100),
	}
	opts.Offset = queryInt(q.Get("offset"), 0)

	runs, err := a.store.ListRuns(r.Context(), opts)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, runs)
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run ID: %w", err))
		return
	}

	run, err := a.store.GetRun(r.Context(), runID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, run)
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

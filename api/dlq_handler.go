package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calshift/calshift/dlq"
	"github.com/calshift/calshift/id"
)

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := a.store.ListDLQ(r.Context(), dlq.ListOpts{
		Limit:  queryInt(q.Get("limit"), 100),
		Offset: queryInt(q.Get("offset"), 0),
		Queue:  q.Get("queue"),
	})
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid DLQ entry ID: %w", err))
		return
	}

	entry, err := a.store.GetDLQ(r.Context(), entryID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entry)
}

// replayDLQ re-enqueues a dead-lettered task for another attempt.
func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid DLQ entry ID: %w", err))
		return
	}

	if err := a.store.ReplayDLQ(r.Context(), entryID); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) countDLQ(w http.ResponseWriter, r *http.Request) {
	n, err := a.store.CountDLQ(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

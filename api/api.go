// Package api exposes the calshift engine over HTTP: migration batch
// submission and status, meeting counts, identity-map refresh, and
// administrative access to workflow runs, tasks, the DLQ and cron entries.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/calshift/calshift"
	"github.com/calshift/calshift/engine"
	"github.com/calshift/calshift/store"
)

// API wires the HTTP handlers for the calshift system.
type API struct {
	eng    *engine.Engine
	store  store.Store
	logger *slog.Logger
}

// New creates an API from an engine and its backing store.
func New(eng *engine.Engine, st store.Store, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, store: st, logger: logger}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		// Migration surface.
		r.Post("/migrations", a.submitMigration)
		r.Get("/migrations/{runID}", a.getMigration)
		r.Post("/migrations/{runID}/terminate", a.terminateMigration)
		r.Get("/migrations/{runID}/history", a.getMigrationHistory)
		r.Post("/meeting-counts", a.submitMeetingCount)
		r.Post("/mappings/refresh", a.refreshMapping)

		// Workflow runs.
		r.Get("/runs", a.listRuns)
		r.Get("/runs/{runID}", a.getRun)

		// Tasks.
		r.Get("/tasks", a.listTasks)
		r.Get("/tasks/counts", a.taskCounts)
		r.Get("/tasks/{taskID}", a.getTask)

		// Dead letter queue.
		r.Get("/dlq", a.listDLQ)
		r.Get("/dlq/count", a.countDLQ)
		r.Get("/dlq/{entryID}", a.getDLQ)
		r.Post("/dlq/{entryID}/replay", a.replayDLQ)

		// Cron entries.
		r.Get("/crons", a.listCrons)
		r.Post("/crons/{cronID}/enable", a.setCronEnabled(true))
		r.Post("/crons/{cronID}/disable", a.setCronEnabled(false))

		// Cluster stats.
		r.Get("/stats", a.getStats)
	})

	return r
}

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Lines []int  `json:"lines,omitempty"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeStoreError maps not-found sentinels to 404, state conflicts to
// 409, and everything else to 500.
func (a *API) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calshift.ErrRunNotFound),
		errors.Is(err, calshift.ErrTaskNotFound),
		errors.Is(err, calshift.ErrDLQNotFound),
		errors.Is(err, calshift.ErrCronNotFound):
		a.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, calshift.ErrInvalidState):
		a.writeError(w, http.StatusConflict, err)
	default:
		a.writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeBody[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}

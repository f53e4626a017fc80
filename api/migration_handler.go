package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calshift/calshift/id"
	"github.com/calshift/calshift/migration"
)

// TableRequest carries a raw comma-separated table: one of the migration
// surfaces' batch inputs.
type TableRequest struct {
	Table string `json:"table"`
}

// TerminateRequest carries the operator's reason for stopping a run.
type TerminateRequest struct {
	Reason string `json:"reason"`
}

func (a *API) migrationService(w http.ResponseWriter) *migration.Service {
	svc := a.eng.Migration()
	if svc == nil {
		a.writeError(w, http.StatusServiceUnavailable, errors.New("migration service not configured"))
		return nil
	}
	return svc
}

// submitMigration validates the batch table and starts a migration run.
// A malformed table is a 400 naming the bad line indexes; nothing is
// enqueued for it.
func (a *API) submitMigration(w http.ResponseWriter, r *http.Request) {
	svc := a.migrationService(w)
	if svc == nil {
		return
	}
	req, err := decodeBody[TableRequest](r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	run, err := svc.SubmitBatch(r.Context(), req.Table)
	if err != nil {
		var verr *migration.ValidationError
		if errors.As(err, &verr) {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Lines: verr.Lines})
			return
		}
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, run)
}

func (a *API) getMigration(w http.ResponseWriter, r *http.Request) {
	svc := a.migrationService(w)
	if svc == nil {
		return
	}
	runID, err := id.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run ID: %w", err))
		return
	}

	status, err := svc.Status(r.Context(), runID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, status)
}

func (a *API) terminateMigration(w http.ResponseWriter, r *http.Request) {
	svc := a.migrationService(w)
	if svc == nil {
		return
	}
	runID, err := id.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run ID: %w", err))
		return
	}
	req, err := decodeBody[TerminateRequest](r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if err := svc.Terminate(r.Context(), runID, req.Reason); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getMigrationHistory(w http.ResponseWriter, r *http.Request) {
	svc := a.migrationService(w)
	if svc == nil {
		return
	}
	runID, err := id.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run ID: %w", err))
		return
	}

	history, err := svc.History(r.Context(), runID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, history)
}

// submitMeetingCount starts a read-only count run for the batch table.
func (a *API) submitMeetingCount(w http.ResponseWriter, r *http.Request) {
	svc := a.migrationService(w)
	if svc == nil {
		return
	}
	req, err := decodeBody[TableRequest](r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	run, err := svc.SubmitCount(r.Context(), req.Table)
	if err != nil {
		var verr *migration.ValidationError
		if errors.As(err, &verr) {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Lines: verr.Lines})
			return
		}
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, run)
}

// refreshMapping replaces the identity map from the submitted table.
func (a *API) refreshMapping(w http.ResponseWriter, r *http.Request) {
	svc := a.migrationService(w)
	if svc == nil {
		return
	}
	req, err := decodeBody[TableRequest](r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	run, err := svc.RefreshMapping(r.Context(), req.Table)
	if err != nil {
		var verr *migration.ValidationError
		if errors.As(err, &verr) {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Lines: verr.Lines})
			return
		}
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, run)
}

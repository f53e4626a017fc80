package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calshift/calshift/id"
)

func (a *API) listCrons(w http.ResponseWriter, r *http.Request) {
	entries, err := a.store.ListCrons(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, entries)
}

// setCronEnabled flips an entry's Enabled flag. Disabled entries stay
// registered but the scheduler skips them.
func (a *API) setCronEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cronID, err := id.ParseCronID(chi.URLParam(r, "cronID"))
		if err != nil {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid cron ID: %w", err))
			return
		}

		entry, err := a.store.GetCron(r.Context(), cronID)
		if err != nil {
			a.writeStoreError(w, err)
			return
		}

		entry.Enabled = enabled
		if err := a.store.UpdateCronEntry(r.Context(), entry); err != nil {
			a.writeStoreError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, entry)
	}
}

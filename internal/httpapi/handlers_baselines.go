package httpapi

import "net/http"

// BaselinesHandler returns the current Baselines snapshot (spec.md §6's
// `baselines [--version V]`; version history is served separately by
// LineageHandler since BaselineStore only keeps the current value plus
// per-version snapshot files, not a queryable history index).
func BaselinesHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := d.Baselines.Load(r.Context())
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, b)
	}
}

// LineageHandler returns the full history of applied/rolled-back updates
// (spec.md §6's `lineage`).
func LineageHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := d.Baselines.Lineage(r.Context())
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, entries)
	}
}

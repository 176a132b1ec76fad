package httpapi

import "net/http"

// StatsHandler returns the windowed per-tier aggregate (spec.md §6's
// `stats [--window N]`), defaulting to the 24h window when the caller
// doesn't request one of telemetry.DefaultWindows by name.
func StatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := resolveWindow(r.URL.Query().Get("window"))
		stats, err := d.Telemetry.Stats(r.Context(), window)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, stats)
	}
}

package httpapi

import "net/http"

// HealthzHandler reports whether the kernel's own components (baseline
// store, telemetry store, maintenance executor) are usable, not whether
// any external LLM provider is reachable.
func HealthzHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Health == nil {
			writeJSON(w, map[string]any{"status": "ok"})
			return
		}
		all := d.Health.AllStats()
		down := 0
		for _, s := range all {
			if !d.Health.IsAvailable(s.Component) {
				down++
			}
		}
		if down > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]any{"status": "unhealthy", "components": all})
			return
		}
		writeJSON(w, map[string]any{"status": "ok", "components": all})
	}
}

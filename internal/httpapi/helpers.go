package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/kernel-route/routekernel/internal/telemetry"
)

// resolveWindow maps a ?window= name (e.g. "1h", "24h", "7d", "30d") to
// the matching entry in telemetry.DefaultWindows, defaulting to 24h.
func resolveWindow(name string) telemetry.Window {
	for _, w := range telemetry.DefaultWindows {
		if w.Name == name {
			return w
		}
	}
	for _, w := range telemetry.DefaultWindows {
		if w.Name == "24h" {
			return w
		}
	}
	return telemetry.DefaultWindows[0]
}

// jsonError writes a JSON-encoded error response: {"error": "<msg>"}.
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

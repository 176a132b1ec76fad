package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/kernel-route/routekernel/internal/tier"
	"github.com/kernel-route/routekernel/internal/tracing"
)

// routeRequest is POST /v1/route's body: a query plus optional session
// correlation and an explicit tier override (spec.md §6's `route`
// command, exposed here for HTTP callers).
type routeRequest struct {
	Query        string `json:"query"`
	SessionID    string `json:"session_id,omitempty"`
	OverrideTier string `json:"override_tier,omitempty"`
}

// RouteHandler evaluates one routing decision and returns it, rate
// limited per spec.md's "single hot path" concern (DESIGN.md:
// internal/ratelimit retargeted to this endpoint).
func RouteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req routeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Query == "" {
			jsonError(w, "query is required", http.StatusBadRequest)
			return
		}

		var override tier.Tier
		if req.OverrideTier != "" {
			t, err := tier.Parse(req.OverrideTier)
			if err != nil {
				jsonError(w, err.Error(), http.StatusBadRequest)
				return
			}
			override = t
		}

		decision, err := d.Router.Route(r.Context(), req.Query, req.SessionID, override)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		tracing.AnnotateDecision(r.Context(), decision.ID, string(decision.ChosenTier), decision.Complexity, decision.Overridden)
		writeJSON(w, decision)
	}
}

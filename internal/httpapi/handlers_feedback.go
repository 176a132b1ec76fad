package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kernel-route/routekernel/internal/feedback"
	"github.com/kernel-route/routekernel/internal/telemetry"
)

// feedbackRequest is POST /v1/feedback's body, mirroring spec.md §6's
// `feedback <id|--prefix P> <success|failure|escalation>` command.
// Idempotency-Key-protected (DESIGN.md: internal/idempotency retargeted
// to feedback-signal dedup) since retried outcome reports must not double
// count against the same decision.
type feedbackRequest struct {
	DecisionID       string `json:"decision_id,omitempty"`
	QueryPrefix      string `json:"query_prefix,omitempty"`
	Signal           string `json:"signal"`
	EscalationReason string `json:"escalation_reason,omitempty"`
	RetryDecisionID  string `json:"retry_decision_id,omitempty"`
}

// FeedbackHandler attaches an outcome signal to a previously-routed
// decision.
func FeedbackHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.DecisionID == "" && req.QueryPrefix == "" {
			jsonError(w, "decision_id or query_prefix is required", http.StatusBadRequest)
			return
		}

		signal := telemetry.Signal(req.Signal)
		in := feedback.SignalInput{
			DecisionID:       req.DecisionID,
			QueryPrefix:      req.QueryPrefix,
			Signal:           signal,
			EscalationReason: telemetry.EscalationReason(req.EscalationReason),
			RetryDecisionID:  req.RetryDecisionID,
		}

		rec, err := d.Feedback.Record(r.Context(), in)
		if err != nil {
			if errors.Is(err, feedback.ErrInvalidSignal) {
				jsonError(w, err.Error(), http.StatusBadRequest)
				return
			}
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, rec)
	}
}

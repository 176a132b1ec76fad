package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kernel-route/routekernel/internal/autoupdate"
	"github.com/kernel-route/routekernel/internal/baseline"
	"github.com/kernel-route/routekernel/internal/tracing"
)

// statusForApplyRollbackError maps the autoupdate/baseline error taxonomy
// to the HTTP status kernelctl's exitForStatus needs to recover spec.md
// §6's exit codes: unknown/missing id is an input error (exit 1),
// unmet gates stay 422 (exit 2, unchanged), and both an already-resolved
// proposal and an invalid baseline mutation are validation failures
// (exit 3) rather than gates-unmet, since neither is "the gate suite
// evaluated and failed" — an id conflict or a broken invariant is a
// different failure mode than a not-yet-satisfied sample-size/quality
// gate. A store that's still unavailable after retry is exit 4.
func statusForApplyRollbackError(err error) int {
	switch {
	case errors.Is(err, autoupdate.ErrProposalNotFound):
		return http.StatusBadRequest
	case errors.Is(err, autoupdate.ErrGatesUnmet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, autoupdate.ErrAlreadyApplied), errors.Is(err, autoupdate.ErrNoBackup):
		return http.StatusConflict
	case errors.Is(err, baseline.ErrBaselinesInvalid):
		return http.StatusConflict
	case errors.Is(err, baseline.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ProposalsHandler returns every tracked proposal with its current gate
// evaluation. It takes no window parameter: detection always scans the
// Gate's configured pattern window.
func ProposalsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := d.Gate.Evaluate(r.Context())
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, report)
	}
}

// ApplyProposalHandler applies (or previews, with ?dry_run=true) one
// proposal (spec.md §6's `apply <proposal_id> [--dry-run]`).
func ApplyProposalHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

		result, err := d.Gate.Apply(r.Context(), id, dryRun)
		if err != nil {
			jsonError(w, err.Error(), statusForApplyRollbackError(err))
			return
		}
		status := "previewed"
		if applied, ok := result.(autoupdate.Result); ok {
			status = string(applied.Status)
		}
		tracing.AnnotateProposal(r.Context(), id, "", status)
		writeJSON(w, result)
	}
}

// RollbackProposalHandler reverts a previously-applied proposal back to
// its pre-apply baseline version (spec.md §6's `rollback <proposal_id>`).
func RollbackProposalHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		result, err := d.Gate.Rollback(r.Context(), id)
		if err != nil {
			jsonError(w, err.Error(), statusForApplyRollbackError(err))
			return
		}
		tracing.AnnotateProposal(r.Context(), id, "", string(result.Status))
		writeJSON(w, result)
	}
}

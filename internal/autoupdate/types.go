package autoupdate

import (
	"time"

	"github.com/kernel-route/routekernel/internal/baseline"
	"github.com/kernel-route/routekernel/internal/update"
)

// Check is one gate predicate's evaluation result, surfaced so operators
// can see exactly which condition blocked an auto-apply.
type Check struct {
	Name   string  `json:"name"`
	Passed bool    `json:"passed"`
	Want   float64 `json:"want"`
	Got    float64 `json:"got"`
}

// GateResult is the outcome of evaluating every gate predicate for one
// proposal (spec.md §4.8: "all must hold to auto-apply").
type GateResult struct {
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
}

func (r GateResult) firstFailure() string {
	for _, c := range r.Checks {
		if !c.Passed {
			return c.Name
		}
	}
	return ""
}

// trackedProposal is what the gate keeps per proposal it has ever seen,
// beyond the ProposedUpdate value itself: the baseline version to
// restore on rollback, and the post-apply efficiency snapshot monitoring
// compares against.
type trackedProposal struct {
	update.ProposedUpdate
	BackupVersion     string
	PreApplyAvgDQ     float64
	PostApplyDeadline time.Time
}

// Report is Evaluate's return value: every currently-tracked proposal
// together with its gate evaluation as of GeneratedAt.
type Report struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Proposals   []ReportEntry `json:"proposals"`
}

// ReportEntry pairs one ProposedUpdate with its gate evaluation.
type ReportEntry struct {
	update.ProposedUpdate
	Gate GateResult `json:"gate"`
}

// Preview is Apply's dryRun=true return value.
type Preview struct {
	ProposalID    string             `json:"proposal_id"`
	CurrentValue  float64            `json:"current_value"`
	ProposedValue float64            `json:"proposed_value"`
	Proposed      baseline.Baselines `json:"proposed_baselines"`
	BackupPath    string             `json:"backup_path"`
}

// Result is Apply's dryRun=false (and Rollback's) return value.
type Result struct {
	ProposalID   string             `json:"proposal_id"`
	Status       update.Status      `json:"status"`
	NewBaselines baseline.Baselines `json:"new_baselines"`
	BackupPath   string             `json:"backup_path,omitempty"`
}

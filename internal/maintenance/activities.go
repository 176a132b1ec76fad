package maintenance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kernel-route/routekernel/internal/autoupdate"
	"github.com/kernel-route/routekernel/internal/events"
	"github.com/kernel-route/routekernel/internal/feedback"
	"github.com/kernel-route/routekernel/internal/update"
)

// Activities bundles the maintenance workflow's steps as method values,
// the same shape the teacher registers against its Temporal worker
// (internal/temporal/activities.go's *Activities receiver methods).
type Activities struct {
	Gate     *autoupdate.Gate
	Feedback *feedback.Ingest
	Grace    feedback.GracePeriod
	Bus      *events.Bus
	Logger   *slog.Logger
}

// ExpireGrace sweeps FeedbackIngest's open decisions past their grace
// period into unknown_timeout (spec.md §4.6).
func (a *Activities) ExpireGrace(ctx context.Context, in RunInput) (int, error) {
	n, err := a.Feedback.ExpireGracePeriod(ctx, a.Grace)
	if err != nil {
		return 0, fmt.Errorf("maintenance: expire grace period: %w", err)
	}
	return n, nil
}

// EvaluateProposals runs PatternDetector (via Gate.Evaluate) and returns
// the resulting report of tracked proposals and their gate evaluations
// (spec.md §4.8 Evaluate() -> Report).
func (a *Activities) EvaluateProposals(ctx context.Context, in RunInput) (autoupdate.Report, error) {
	report, err := a.Gate.Evaluate(ctx)
	if err != nil {
		return autoupdate.Report{}, fmt.Errorf("maintenance: evaluate proposals: %w", err)
	}
	for _, entry := range report.Proposals {
		a.publish(events.Event{
			Type:       events.EventProposalGenerated,
			ProposalID: entry.ID,
			TargetPath: entry.TargetPath,
			Reason:     entry.Rationale,
		})
	}
	return report, nil
}

// ApplyResult tallies one auto-apply pass; a plain struct rather than
// multiple returns since Temporal activities carry a single result value.
type ApplyResult struct {
	Applied  int `json:"applied"`
	Rejected int `json:"rejected"`
}

// ApplyPassingProposals auto-applies (spec.md §4.8: "all must hold to
// auto-apply") every still-proposed entry in report whose gate passed,
// leaving gate-failed entries untouched (ErrGatesUnmet is expected, not
// fatal — they simply remain `proposed` for the next run to re-evaluate).
func (a *Activities) ApplyPassingProposals(ctx context.Context, report autoupdate.Report) (ApplyResult, error) {
	var res ApplyResult
	for _, entry := range report.Proposals {
		if entry.Status != update.Proposed {
			continue
		}
		if !entry.Gate.Passed {
			res.Rejected++
			continue
		}
		if _, aerr := a.Gate.Apply(ctx, entry.ID, false); aerr != nil {
			a.Logger.Warn("maintenance: auto-apply failed", "proposal_id", entry.ID, "error", aerr)
			res.Rejected++
			continue
		}
		res.Applied++
	}
	return res, nil
}

// CheckDrift runs AutoUpdateGate's post-apply monitoring, auto-reverting
// any proposal whose efficiency has dropped past rollback_drop_pct.
func (a *Activities) CheckDrift(ctx context.Context, in RunInput) ([]string, error) {
	reverted, err := a.Gate.CheckDrift(ctx)
	if err != nil {
		return nil, fmt.Errorf("maintenance: check drift: %w", err)
	}
	return reverted, nil
}

func (a *Activities) publish(e events.Event) {
	if a.Bus == nil {
		return
	}
	a.Bus.Publish(e)
}

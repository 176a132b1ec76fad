package maintenance

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/kernel-route/routekernel/internal/autoupdate"
)

const (
	activityTimeout = 60 * time.Second
	workflowTimeout = 5 * time.Minute
)

// MaintenanceWorkflow is the §5 background executor's Temporal-backed
// path: it sweeps the feedback grace period, evaluates every tracked
// proposal against the gate predicates, auto-applies the ones that pass,
// and checks for post-apply drift — cooperatively, never touching the
// routing path.
func MaintenanceWorkflow(ctx workflow.Context, input RunInput) (RunResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		HeartbeatTimeout:    15 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	result := RunResult{
		RunID:     input.RunID,
		StartedAt: workflow.Now(ctx),
	}

	var expired int
	if err := workflow.ExecuteActivity(ctx, (*Activities).ExpireGrace, input).Get(ctx, &expired); err != nil {
		return result, err
	}
	result.ExpiredGraceCount = expired

	var report autoupdate.Report
	if err := workflow.ExecuteActivity(ctx, (*Activities).EvaluateProposals, input).Get(ctx, &report); err != nil {
		return result, err
	}
	result.ProposalsFound = len(report.Proposals)

	var applyResult ApplyResult
	if err := workflow.ExecuteActivity(ctx, (*Activities).ApplyPassingProposals, report).Get(ctx, &applyResult); err != nil {
		return result, err
	}
	result.ProposalsApplied = applyResult.Applied
	result.ProposalsRejected = applyResult.Rejected

	var reverted []string
	if err := workflow.ExecuteActivity(ctx, (*Activities).CheckDrift, input).Get(ctx, &reverted); err != nil {
		return result, err
	}
	result.RolledBack = reverted

	result.FinishedAt = workflow.Now(ctx)
	return result, nil
}

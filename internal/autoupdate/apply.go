package autoupdate

import (
	"context"
	"fmt"
	"time"

	"github.com/kernel-route/routekernel/internal/events"
	"github.com/kernel-route/routekernel/internal/telemetry"
	"github.com/kernel-route/routekernel/internal/update"
)

// Apply evaluates proposalID's gates and, if dryRun, returns a Preview of
// what applying it would do without persisting anything; otherwise it
// backs up the current baseline version, applies the update, and starts
// post-apply monitoring (spec.md §4.8).
func (g *Gate) Apply(ctx context.Context, proposalID string, dryRun bool) (any, error) {
	g.mu.Lock()
	tp, ok := g.proposals[proposalID]
	g.mu.Unlock()
	if !ok {
		return nil, ErrProposalNotFound
	}
	if !dryRun && tp.Status != update.Proposed {
		return nil, ErrAlreadyApplied
	}

	gate, err := g.evaluateGates(ctx, tp.ProposedUpdate)
	if err != nil {
		return nil, err
	}
	if !gate.Passed {
		return nil, fmt.Errorf("%w: %s", ErrGatesUnmet, gate.firstFailure())
	}

	current, err := g.baselines.Load(ctx)
	if err != nil {
		return nil, err
	}
	backupPath := fmt.Sprintf("versions/%s.json", current.Version)

	if dryRun {
		candidate, preview, err := g.baselines.ApplyUpdate(ctx, tp.ProposedUpdate, true)
		if err != nil {
			return nil, err
		}
		return Preview{
			ProposalID:    proposalID,
			CurrentValue:  preview.CurrentValue,
			ProposedValue: preview.ProposedValue,
			Proposed:      candidate,
			BackupPath:    backupPath,
		}, nil
	}

	newBaselines, _, err := g.baselines.ApplyUpdate(ctx, tp.ProposedUpdate, false)
	if err != nil {
		return nil, fmt.Errorf("autoupdate: %w", err)
	}

	preApplyDQ, err := g.currentEfficiency(ctx)
	if err != nil {
		preApplyDQ = 0
	}

	g.mu.Lock()
	tp.Status = update.Applied
	tp.BackupVersion = current.Version
	tp.PreApplyAvgDQ = preApplyDQ
	tp.PostApplyDeadline = time.Now().UTC().Add(g.monitoringHorizon())
	g.mu.Unlock()

	g.publish(events.Event{
		Type:            events.EventBaselineApplied,
		ProposalID:      proposalID,
		TargetPath:      tp.TargetPath,
		BaselineVersion: newBaselines.Version,
	})

	return Result{ProposalID: proposalID, Status: update.Applied, NewBaselines: newBaselines, BackupPath: backupPath}, nil
}

// Rollback reverts proposalID's applied change by restoring the baseline
// version captured as its backup, marking the proposal rolled_back.
func (g *Gate) Rollback(ctx context.Context, proposalID string) (Result, error) {
	g.mu.Lock()
	tp, ok := g.proposals[proposalID]
	g.mu.Unlock()
	if !ok {
		return Result{}, ErrProposalNotFound
	}
	if tp.BackupVersion == "" || tp.Status == update.RolledBack {
		return Result{}, ErrNoBackup
	}

	restored, err := g.baselines.Rollback(ctx, tp.BackupVersion)
	if err != nil {
		return Result{}, fmt.Errorf("autoupdate: %w", err)
	}

	g.mu.Lock()
	tp.Status = update.RolledBack
	g.mu.Unlock()

	g.publish(events.Event{
		Type:            events.EventBaselineRolledBack,
		ProposalID:      proposalID,
		BaselineVersion: restored.Version,
	})

	return Result{ProposalID: proposalID, Status: update.RolledBack, NewBaselines: restored}, nil
}

// monitoringHorizon is how long after an apply CheckDrift keeps treating
// the proposal as still-monitored: a fixed 24 hours of wall-clock time,
// regardless of how many decisions arrive in that period.
func (g *Gate) monitoringHorizon() time.Duration {
	return 24 * time.Hour
}

func (g *Gate) currentEfficiency(ctx context.Context) (float64, error) {
	stats, err := g.telemetry.Stats(ctx, telemetry.Window{Name: "efficiency-probe", Duration: g.patternsCfg.Window})
	if err != nil {
		return 0, err
	}
	return avgDQTotal(stats), nil
}

// CheckDrift is the post-apply-monitoring half of spec.md §4.8: called
// periodically (by the maintenance executor) for every Applied proposal
// still inside its monitoring horizon, it compares recent efficiency
// against the pre-apply snapshot and auto-reverts if the drop exceeds
// feedback_gates.rollback_drop_pct.
func (g *Gate) CheckDrift(ctx context.Context) ([]string, error) {
	b, err := g.baselines.Load(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	var candidates []*trackedProposal
	now := time.Now().UTC()
	for _, tp := range g.proposals {
		if tp.Status == update.Applied && now.Before(tp.PostApplyDeadline) {
			candidates = append(candidates, tp)
		}
	}
	g.mu.Unlock()

	var reverted []string
	for _, tp := range candidates {
		recent, err := g.recentSampleStats(ctx, b.FeedbackGates.RecentSample)
		if err != nil {
			return reverted, err
		}
		recentDQ := avgDQTotal(recent)
		if tp.PreApplyAvgDQ <= 0 {
			continue
		}
		drop := (tp.PreApplyAvgDQ - recentDQ) / tp.PreApplyAvgDQ
		if drop <= b.FeedbackGates.RollbackDropPct {
			continue
		}

		if _, err := g.Rollback(ctx, tp.ID); err != nil {
			return reverted, fmt.Errorf("autoupdate: auto-revert %s: %w", tp.ID, err)
		}
		g.publish(events.Event{
			Type:       events.EventRollbackTriggered,
			ProposalID: tp.ID,
			Reason:     fmt.Sprintf("efficiency dropped %.1f%% (floor %.1f%%)", drop*100, b.FeedbackGates.RollbackDropPct*100),
		})
		reverted = append(reverted, tp.ID)
	}
	return reverted, nil
}

func (g *Gate) publish(e events.Event) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(e)
}

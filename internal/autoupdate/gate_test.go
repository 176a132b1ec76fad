package autoupdate

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kernel-route/routekernel/internal/baseline"
	"github.com/kernel-route/routekernel/internal/events"
	"github.com/kernel-route/routekernel/internal/patterns"
	"github.com/kernel-route/routekernel/internal/telemetry"
	"github.com/kernel-route/routekernel/internal/tier"
	"github.com/kernel-route/routekernel/internal/update"
)

func newTestGate(t *testing.T) (*Gate, baseline.Store, telemetry.Store) {
	t.Helper()
	bstore, err := baseline.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	tstore, err := telemetry.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tstore.Close() })

	cfg := patterns.DefaultConfig()
	cfg.MinSample = 5
	return New(bstore, tstore, cfg), bstore, tstore
}

func seedManyDecisions(t *testing.T, store telemetry.Store, n int, chosenTier tier.Tier, successRatio float64) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%d", chosenTier, i)
		d := telemetry.Decision{
			ID:              id,
			Ts:              time.Now().UTC(),
			QueryHash:       fmt.Sprintf("h-%s-%d", chosenTier, i),
			QueryPreview:    "query",
			Complexity:      0.5,
			ChosenTier:      chosenTier,
			DQ:              telemetry.DQBreakdown{Total: 0.8},
			BaselineVersion: "1.0.0",
		}
		require.NoError(t, store.Append(ctx, d))
		signal := telemetry.SignalFailure
		if float64(i)/float64(n) < successRatio {
			signal = telemetry.SignalSuccess
		}
		_, err := store.AttachOutcome(ctx, id, "", signal, "")
		require.NoError(t, err)
	}
}

func TestEvaluateReportsGateFailureBelowMinQueries(t *testing.T) {
	g, _, tstore := newTestGate(t)
	seedManyDecisions(t, tstore, 5, tier.Fast, 1.0)

	u := update.ProposedUpdate{
		ID:            "p1",
		TargetPath:    "complexity_thresholds.fast.hi",
		ProposedValue: 0.20,
		SampleSize:    5,
		Confidence:    0.5,
		Status:        update.Proposed,
		CreatedAt:     time.Now().UTC(),
	}
	g.mu.Lock()
	g.proposals[u.ID] = &trackedProposal{ProposedUpdate: u}
	g.mu.Unlock()

	// Evaluate also runs PatternDetector: 5 of 5 decisions on fast exceed
	// fast's 55% target share by more than the 15% margin, so the overuse
	// detector adds a second proposal next to p1. Both fail min_queries.
	report, err := g.Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Proposals, 2)
	for _, entry := range report.Proposals {
		require.False(t, entry.Gate.Passed)
	}
}

func TestApplyRejectsWhenGatesUnmet(t *testing.T) {
	g, _, _ := newTestGate(t)
	u := update.ProposedUpdate{
		ID:            "p1",
		TargetPath:    "complexity_thresholds.fast.hi",
		ProposedValue: 0.20,
		Status:        update.Proposed,
		CreatedAt:     time.Now().UTC(),
	}
	g.mu.Lock()
	g.proposals[u.ID] = &trackedProposal{ProposedUpdate: u}
	g.mu.Unlock()

	_, err := g.Apply(context.Background(), "p1", false)
	require.ErrorIs(t, err, ErrGatesUnmet)
}

func TestApplyUnknownProposalErrors(t *testing.T) {
	g, _, _ := newTestGate(t)
	_, err := g.Apply(context.Background(), "nope", false)
	require.ErrorIs(t, err, ErrProposalNotFound)
}

func TestApplyDryRunDoesNotPersist(t *testing.T) {
	g, bstore, tstore := newTestGate(t)
	seedManyDecisions(t, tstore, 250, tier.Fast, 1.0)

	before, err := bstore.Load(context.Background())
	require.NoError(t, err)

	u := update.ProposedUpdate{
		ID:            "p1",
		TargetPath:    "complexity_thresholds.fast.hi",
		ProposedValue: 0.20,
		SampleSize:    250,
		Confidence:    1.0,
		Status:        update.Proposed,
		CreatedAt:     time.Now().UTC(),
	}
	g.mu.Lock()
	g.proposals[u.ID] = &trackedProposal{ProposedUpdate: u}
	g.mu.Unlock()

	out, err := g.Apply(context.Background(), "p1", true)
	require.NoError(t, err)
	preview, ok := out.(Preview)
	require.True(t, ok)
	require.Equal(t, 0.20, preview.ProposedValue)

	after, err := bstore.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, before.Version, after.Version)
}

func TestRollbackUnknownProposalErrors(t *testing.T) {
	g, _, _ := newTestGate(t)
	_, err := g.Rollback(context.Background(), "nope")
	require.ErrorIs(t, err, ErrProposalNotFound)
}

func TestRollbackWithoutBackupErrors(t *testing.T) {
	g, _, _ := newTestGate(t)
	u := update.ProposedUpdate{ID: "p1", Status: update.Proposed}
	g.mu.Lock()
	g.proposals[u.ID] = &trackedProposal{ProposedUpdate: u}
	g.mu.Unlock()

	_, err := g.Rollback(context.Background(), "p1")
	require.ErrorIs(t, err, ErrNoBackup)
}

// TestCheckDriftRevertsOnPostApplyEfficiencyDrop pins spec.md §8 end-to-end
// scenario 6: apply a proposal while usage is healthy, then let efficiency
// collapse over the following decisions. CheckDrift must notice the drop
// exceeds feedback_gates.rollback_drop_pct, auto-revert the proposal, and
// publish RollbackTriggered — the only literal §8 scenario that previously
// had zero coverage anywhere under internal/autoupdate.
func TestCheckDriftRevertsOnPostApplyEfficiencyDrop(t *testing.T) {
	g, bstore, tstore := newTestGate(t)
	ctx := context.Background()

	before, err := bstore.Load(ctx)
	require.NoError(t, err)
	preApplyVersion := before.Version

	bus := events.NewBus()
	sub := bus.Subscribe(10)
	defer bus.Unsubscribe(sub)
	g.bus = bus

	// Healthy usage: 200 decisions, half with feedback, all DQ 0.8 —
	// clears every Apply gate (min_queries 200, min_feedback 50,
	// min_data_quality 0.6, actionable_threshold 0.75).
	seedDQDecisions(t, tstore, 0, 200, tier.Fast, 0.8, 100)

	u := update.ProposedUpdate{
		ID:            "p-drift",
		Type:          update.ThresholdAdjustment,
		TargetPath:    "complexity_thresholds.fast.hi",
		ProposedValue: 0.30,
		Rationale:     "fast tier under-provisioning detected",
		SampleSize:    250,
		Confidence:    0.9,
		Status:        update.Proposed,
		CreatedAt:     time.Now().UTC(),
	}
	g.mu.Lock()
	g.proposals[u.ID] = &trackedProposal{ProposedUpdate: u}
	g.mu.Unlock()

	result, err := g.Apply(ctx, u.ID, false)
	require.NoError(t, err)
	applied, ok := result.(Result)
	require.True(t, ok)
	require.Equal(t, update.Applied, applied.Status)

	g.mu.Lock()
	tp := g.proposals[u.ID]
	require.Greater(t, tp.PreApplyAvgDQ, 0.0)
	require.True(t, tp.PostApplyDeadline.After(time.Now().UTC()))
	require.Equal(t, preApplyVersion, tp.BackupVersion)
	g.mu.Unlock()

	// Efficiency collapses: 200 more decisions at DQ 0.0 pull the average
	// well past the 15% rollback floor.
	seedDQDecisions(t, tstore, 200, 200, tier.Fast, 0.0, 100)

	reverted, err := g.CheckDrift(ctx)
	require.NoError(t, err)
	require.Contains(t, reverted, u.ID)

	g.mu.Lock()
	require.Equal(t, update.RolledBack, g.proposals[u.ID].Status)
	g.mu.Unlock()

	after, err := bstore.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 0.25, after.ComplexityThresholds[tier.Fast].Hi, "rollback must restore the pre-apply threshold")
	require.NotEqual(t, preApplyVersion, after.Version, "rollback records a new version, not the old one in place")

	lineage, err := bstore.Lineage(ctx)
	require.NoError(t, err)
	require.Greater(t, len(lineage), 2, "rollback must append its own lineage entry")

	// Apply and Rollback publish BaselineApplied and BaselineRolledBack
	// first, so skip ahead to the RollbackTriggered event.
	for triggered := false; !triggered; {
		select {
		case e := <-sub.C:
			if e.Type != events.EventRollbackTriggered {
				continue
			}
			require.Equal(t, events.EventRollbackTriggered, e.Type)
			require.Equal(t, u.ID, e.ProposalID)
			triggered = true
		default:
			t.Fatal("expected RollbackTriggered to be published")
		}
	}
}

// seedDQDecisions appends n decisions at the given DQ total starting at
// index offset, attaching a feedback outcome to the first withFeedback of
// them so feedback_count gates can be satisfied independently of volume.
func seedDQDecisions(t *testing.T, store telemetry.Store, offset, n int, chosenTier tier.Tier, dq float64, withFeedback int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("drift-%s-%d", chosenTier, offset+i)
		d := telemetry.Decision{
			ID:              id,
			Ts:              time.Now().UTC(),
			QueryHash:       fmt.Sprintf("h-%s-%d", chosenTier, offset+i),
			QueryPreview:    "query",
			Complexity:      0.1,
			ChosenTier:      chosenTier,
			DQ:              telemetry.DQBreakdown{Total: dq, Validity: dq, Specificity: dq, Correctness: dq},
			BaselineVersion: "1.0.0",
		}
		require.NoError(t, store.Append(ctx, d))
		if i >= withFeedback {
			continue
		}
		signal := telemetry.SignalSuccess
		if dq < 0.5 {
			signal = telemetry.SignalFailure
		}
		_, err := store.AttachOutcome(ctx, id, "", signal, "")
		require.NoError(t, err)
	}
}

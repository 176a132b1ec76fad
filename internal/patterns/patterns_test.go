package patterns

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kernel-route/routekernel/internal/baseline"
	"github.com/kernel-route/routekernel/internal/telemetry"
	"github.com/kernel-route/routekernel/internal/tier"
)

func newTestStores(t *testing.T) (*baseline.FileStore, telemetry.Store) {
	t.Helper()
	bstore, err := baseline.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	tstore, err := telemetry.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tstore.Close() })

	return bstore, tstore
}

func seedDecision(t *testing.T, store telemetry.Store, idx int, chosenTier tier.Tier, complexity float64, outcome telemetry.Outcome) {
	t.Helper()
	ctx := context.Background()
	d := telemetry.Decision{
		ID:              fmt.Sprintf("d-%s-%d", chosenTier, idx),
		Ts:              time.Now().UTC(),
		QueryHash:       fmt.Sprintf("h-%d", idx),
		QueryPreview:    "some query",
		Complexity:      complexity,
		ChosenTier:      chosenTier,
		BaselineVersion: "1.0.0",
	}
	require.NoError(t, store.Append(ctx, d))
	if outcome == telemetry.OutcomeOpen {
		return
	}
	signal := telemetry.SignalSuccess
	if outcome == telemetry.OutcomeFailure {
		signal = telemetry.SignalFailure
	}
	_, err := store.AttachOutcome(ctx, d.ID, "", signal, "")
	require.NoError(t, err)
}

func TestDetectReturnsNoProposalsBelowMinSample(t *testing.T) {
	bstore, tstore := newTestStores(t)
	cfg := DefaultConfig()
	cfg.MinSample = 30

	for i := 0; i < 5; i++ {
		seedDecision(t, tstore, i, tier.Fast, 0.1, telemetry.OutcomeFailure)
	}

	proposals, err := Detect(context.Background(), tstore, bstore, cfg)
	require.NoError(t, err)
	require.Empty(t, proposals)
}

func TestDetectUnderProvisioningFlagsFastFailureRate(t *testing.T) {
	bstore, tstore := newTestStores(t)
	cfg := DefaultConfig()
	cfg.MinSample = 10
	cfg.FastFailureRateThreshold = 0.2

	for i := 0; i < 8; i++ {
		seedDecision(t, tstore, i, tier.Fast, 0.1, telemetry.OutcomeFailure)
	}
	for i := 8; i < 10; i++ {
		seedDecision(t, tstore, i, tier.Fast, 0.1, telemetry.OutcomeSuccess)
	}

	proposals, err := Detect(context.Background(), tstore, bstore, cfg)
	require.NoError(t, err)

	found := false
	for _, p := range proposals {
		if p.TargetPath == "complexity_thresholds.fast.hi" {
			found = true
			require.Less(t, p.ProposedValue, 0.25)
			require.Greater(t, p.Confidence, 0.0)
		}
	}
	require.True(t, found, "expected an under-provisioning proposal, got %+v", proposals)
}

func TestDetectOverProvisioningFlagsLowComplexityStrongUsage(t *testing.T) {
	bstore, tstore := newTestStores(t)
	cfg := DefaultConfig()
	cfg.MinSample = 10
	cfg.OverProvisionShareHighWaterMark = 0.3

	for i := 0; i < 20; i++ {
		seedDecision(t, tstore, i, tier.Strong, 0.2, telemetry.OutcomeSuccess)
	}
	for i := 20; i < 25; i++ {
		seedDecision(t, tstore, i, tier.Fast, 0.1, telemetry.OutcomeSuccess)
	}

	proposals, err := Detect(context.Background(), tstore, bstore, cfg)
	require.NoError(t, err)

	found := false
	for _, p := range proposals {
		if p.TargetPath == "complexity_thresholds.strong.lo" {
			found = true
		}
	}
	require.True(t, found, "expected an over-provisioning proposal, got %+v", proposals)
}

func TestDetectIsDeterministicAcrossRuns(t *testing.T) {
	bstore, tstore := newTestStores(t)
	cfg := DefaultConfig()
	cfg.MinSample = 10
	cfg.FastFailureRateThreshold = 0.2

	for i := 0; i < 8; i++ {
		seedDecision(t, tstore, i, tier.Fast, 0.1, telemetry.OutcomeFailure)
	}
	for i := 8; i < 10; i++ {
		seedDecision(t, tstore, i, tier.Fast, 0.1, telemetry.OutcomeSuccess)
	}

	first, err := Detect(context.Background(), tstore, bstore, cfg)
	require.NoError(t, err)
	second, err := Detect(context.Background(), tstore, bstore, cfg)
	require.NoError(t, err)
	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, first[i].TargetPath, second[i].TargetPath)
		require.Equal(t, first[i].ProposedValue, second[i].ProposedValue)
		require.Equal(t, first[i].Confidence, second[i].Confidence)
	}
}

// TestDetectScenario3UnderProvisioningReachesRequiredConfidence pins
// spec.md §8 end-to-end scenario 3 literally: 200 decisions with 60
// feedbacks at 90% success in the medium band first produce zero
// proposals, then injecting 40 fast-tier failures out of 42 (95% failure
// rate) produces a fast.hi threshold_adjustment with confidence >= 0.85.
// This regressed silently once before: the confidence formula's maximum
// possible output is EffectSizeWeight itself, so a default below 0.85
// made this scenario mathematically unreachable regardless of sample
// size or failure rate.
func TestDetectScenario3UnderProvisioningReachesRequiredConfidence(t *testing.T) {
	bstore, tstore := newTestStores(t)
	cfg := DefaultConfig()

	for i := 0; i < 110; i++ {
		seedDecision(t, tstore, i, tier.Fast, 0.1, telemetry.OutcomeOpen)
	}
	for i := 0; i < 54; i++ {
		seedDecision(t, tstore, i, tier.Medium, 0.4, telemetry.OutcomeSuccess)
	}
	for i := 54; i < 60; i++ {
		seedDecision(t, tstore, i, tier.Medium, 0.4, telemetry.OutcomeFailure)
	}
	for i := 0; i < 30; i++ {
		seedDecision(t, tstore, i, tier.Strong, 0.8, telemetry.OutcomeOpen)
	}

	proposals, err := Detect(context.Background(), tstore, bstore, cfg)
	require.NoError(t, err)
	require.Empty(t, proposals, "200 decisions with a healthy 90%% medium success rate should propose nothing")

	for i := 110; i < 150; i++ {
		seedDecision(t, tstore, i, tier.Fast, 0.1, telemetry.OutcomeFailure)
	}
	for i := 150; i < 152; i++ {
		seedDecision(t, tstore, i, tier.Fast, 0.1, telemetry.OutcomeSuccess)
	}

	proposals, err = Detect(context.Background(), tstore, bstore, cfg)
	require.NoError(t, err)

	found := false
	for _, p := range proposals {
		if p.TargetPath == "complexity_thresholds.fast.hi" {
			found = true
			require.Less(t, p.ProposedValue, 0.25)
			require.GreaterOrEqual(t, p.Confidence, 0.85, "scenario 3 requires confidence >= 0.85, got %.3f", p.Confidence)
		}
	}
	require.True(t, found, "expected a fast.hi under-provisioning proposal, got %+v", proposals)
}

func TestConfidenceFormula(t *testing.T) {
	require.InDelta(t, 0.4, confidence(30, 60, 0.8), 1e-9)
	require.InDelta(t, 0.8, confidence(120, 60, 0.8), 1e-9)
	require.InDelta(t, 0.0, confidence(0, 60, 0.8), 1e-9)
}

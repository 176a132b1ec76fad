package dqscore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kernel-route/routekernel/internal/baseline"
	"github.com/kernel-route/routekernel/internal/textsim"
	"github.com/kernel-route/routekernel/internal/tier"
)

func TestScoreExactTierMatchIsFullySpecific(t *testing.T) {
	b := baseline.Defaults()
	r := Score("hi", 0.10, tier.Fast, nil, b)
	require.Equal(t, 1.0, r.Specificity)
	require.Equal(t, 1.0, r.Validity)
}

func TestScoreUnderProvisioningPenalizedMoreThanOverProvisioning(t *testing.T) {
	b := baseline.Defaults()
	// Fast tier's range is [0, 0.25): 0.5 is 0.25 over the top (under-provisioned).
	under := Score("q", 0.50, tier.Fast, nil, b)
	// Strong tier's range is [0.70, 1.0]: 0.45 is 0.25 below the bottom (over-provisioned).
	over := Score("q", 0.45, tier.Strong, nil, b)
	require.Less(t, under.Validity, over.Validity)
}

func TestScoreSpecificityAdjacentVsDistant(t *testing.T) {
	b := baseline.Defaults()
	// Complexity 0.10 → ideal is fast. Medium is adjacent, strong is distant.
	adjacent := Score("q", 0.10, tier.Medium, nil, b)
	distant := Score("q", 0.10, tier.Strong, nil, b)
	require.Equal(t, 0.6, adjacent.Specificity)
	require.Equal(t, 0.2, distant.Specificity)
}

func TestScoreCorrectnessNoHistoryIsHalf(t *testing.T) {
	b := baseline.Defaults()
	r := Score("anything", 0.5, tier.Medium, nil, b)
	require.Equal(t, 0.5, r.Correctness)
}

func TestScoreCorrectnessUsesFeedbackSuccessRate(t *testing.T) {
	b := baseline.Defaults()
	trueVal, falseVal := true, false
	history := []textsim.HistoryEntry{
		{Query: "refactor the router module", Success: &trueVal},
		{Query: "refactor the router package across files", Success: &falseVal},
	}
	r := Score("refactor the router module today", 0.5, tier.Medium, history, b)
	require.InDelta(t, 0.5, r.Correctness, 1e-9)
}

func TestScoreCorrectnessFallsBackToMeanDQWithoutFeedback(t *testing.T) {
	b := baseline.Defaults()
	history := []textsim.HistoryEntry{
		{Query: "refactor the router module", DQTotal: 0.8},
		{Query: "refactor the router package across files", DQTotal: 0.6},
	}
	r := Score("refactor the router module today", 0.5, tier.Medium, history, b)
	require.InDelta(t, 0.7, r.Correctness, 1e-9)
}

func TestScoreActionableThreshold(t *testing.T) {
	b := baseline.Defaults()
	r := Score("hi", 0.10, tier.Fast, nil, b)
	require.True(t, r.Actionable)
	require.GreaterOrEqual(t, r.Total, b.ActionableThreshold)
}

func TestScoreTotalIsWeightedDotProduct(t *testing.T) {
	b := baseline.Defaults()
	r := Score("hi", 0.10, tier.Fast, nil, b)
	want := r.Validity*b.DQWeights.Validity + r.Specificity*b.DQWeights.Specificity + r.Correctness*b.DQWeights.Correctness
	require.InDelta(t, want, r.Total, 1e-9)
}

// Package dqscore implements the DQScorer (C4): a pure weighted
// multi-objective score for one candidate tier, generalizing the
// teacher's internal/router/engine.go scoreModels (normalized
// cost/latency/weight dot product against a ModeWeights profile) from
// "pick a model" to "grade a tier choice".
package dqscore

import (
	"github.com/kernel-route/routekernel/internal/baseline"
	"github.com/kernel-route/routekernel/internal/textsim"
	"github.com/kernel-route/routekernel/internal/tier"
)

// Result is the DQScorer output for one tier candidate.
type Result struct {
	Total       float64 `json:"total"`
	Validity    float64 `json:"validity"`
	Specificity float64 `json:"specificity"`
	Correctness float64 `json:"correctness"`
	Actionable  bool    `json:"actionable"`
}

// underProvisionPenaltyFactor makes the validity penalty for choosing a
// tier too weak for the query roughly twice as steep as the penalty for
// choosing one too strong, per spec.md §4.4.
const (
	underProvisionPenaltyFactor = 2.0
	overProvisionPenaltyFactor  = 1.0
)

const (
	specificityExactMatch   = 1.0
	specificityAdjacentTier = 0.6
	specificityDistantTier  = 0.2
)

const correctnessNoHistory = 0.5

// Score grades chosenTier against complexity using baselines' thresholds
// and weights, with history used both for the specificity "ideal tier"
// comparison and the correctness historical lookup.
func Score(query string, complexity float64, chosenTier tier.Tier, history []textsim.HistoryEntry, baselines baseline.Baselines) Result {
	v := validity(complexity, chosenTier, baselines)
	s := specificity(complexity, chosenTier, baselines)
	c := correctness(query, history)

	w := baselines.DQWeights
	total := v*w.Validity + s*w.Specificity + c*w.Correctness

	return Result{
		Total:       clamp01(total),
		Validity:    v,
		Specificity: s,
		Correctness: c,
		Actionable:  total >= baselines.ActionableThreshold,
	}
}

// validity penalises under-provisioning (complexity above the chosen
// tier's own upper bound — the tier can't really handle this query)
// about twice as heavily as over-provisioning (complexity below the
// tier's lower bound — more capability bought than needed).
func validity(complexity float64, chosenTier tier.Tier, baselines baseline.Baselines) float64 {
	r, ok := baselines.ComplexityThresholds[chosenTier]
	if !ok {
		return correctnessNoHistory
	}
	switch {
	case complexity > r.Hi:
		excess := complexity - r.Hi
		return clamp01(1 - underProvisionPenaltyFactor*excess)
	case complexity < r.Lo:
		gap := r.Lo - complexity
		return clamp01(1 - overProvisionPenaltyFactor*gap)
	default:
		return 1.0
	}
}

// specificity compares chosenTier to the ideal tier for this complexity
// (read from baselines.complexity_thresholds via Baselines.TierFor).
func specificity(complexity float64, chosenTier tier.Tier, baselines baseline.Baselines) float64 {
	ideal, ok := baselines.TierFor(complexity)
	if !ok {
		return specificityDistantTier
	}
	if ideal == chosenTier {
		return specificityExactMatch
	}
	distance := tierDistance(ideal, chosenTier)
	if distance == 1 {
		return specificityAdjacentTier
	}
	return specificityDistantTier
}

func tierDistance(a, b tier.Tier) int {
	ia, ib := tier.Index(a), tier.Index(b)
	if ia < 0 || ib < 0 {
		return len(tier.Ordered)
	}
	d := ia - ib
	if d < 0 {
		d = -d
	}
	return d
}

// correctness consults historical similar decisions (same Jaccard
// similarity as ComplexityAnalyzer's historical pull). If any similar
// entry carries an outcome signal, correctness is the success rate among
// those; otherwise it is the mean DQ total of similar entries; with no
// similar history, 0.5.
func correctness(query string, history []textsim.HistoryEntry) float64 {
	similar := textsim.Similar(query, history)
	if len(similar) == 0 {
		return correctnessNoHistory
	}

	var withFeedback []textsim.HistoryEntry
	for _, h := range similar {
		if h.Success != nil {
			withFeedback = append(withFeedback, h)
		}
	}
	if len(withFeedback) > 0 {
		successes := 0
		for _, h := range withFeedback {
			if *h.Success {
				successes++
			}
		}
		return float64(successes) / float64(len(withFeedback))
	}

	sum := 0.0
	for _, h := range similar {
		sum += h.DQTotal
	}
	return clamp01(sum / float64(len(similar)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

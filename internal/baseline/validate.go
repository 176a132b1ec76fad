package baseline

import (
	"fmt"
	"math"

	"github.com/kernel-route/routekernel/internal/tier"
)

const weightEpsilon = 1e-6

// normalizeTolerance is the "within 1%" renormalization band from §4.1:
// weight sums off by more than this are rejected outright rather than
// silently renormalized.
const normalizeTolerance = 0.01

// validate checks spec.md §8 invariants 1-2 (weights and partition) plus
// non-negative costs and the actionable threshold range. Lineage is not
// checked here or anywhere else; ApplyUpdate and Rollback only append an
// entry under a bumped version. It does not mutate b.
func validate(b Baselines) error {
	if err := validateWeights(b.DQWeights); err != nil {
		return err
	}
	if err := validatePartition(b.ComplexityThresholds); err != nil {
		return err
	}
	if err := validateCosts(b.CostPerMtok); err != nil {
		return err
	}
	if b.ActionableThreshold < 0 || b.ActionableThreshold > 1 {
		return &ValidationError{Reason: "actionable_threshold out of [0,1]"}
	}
	return nil
}

func validateWeights(w DQWeights) error {
	for name, v := range map[string]float64{"validity": w.Validity, "specificity": w.Specificity, "correctness": w.Correctness} {
		if v < 0 || v > 1 {
			return &ValidationError{Reason: fmt.Sprintf("dq_weight %s=%.6f out of [0,1]", name, v)}
		}
	}
	sum := w.Validity + w.Specificity + w.Correctness
	if math.Abs(sum-1) > weightEpsilon {
		return &ValidationError{Reason: fmt.Sprintf("dq_weights sum to %.6f, want 1 ± %.0e", sum, weightEpsilon)}
	}
	return nil
}

// renormalizeWeights rescales w to sum to exactly 1 when it is within 1% of
// doing so already; otherwise it returns an error (§4.1).
func renormalizeWeights(w DQWeights) (DQWeights, error) {
	sum := w.Validity + w.Specificity + w.Correctness
	if sum <= 0 {
		return w, &ValidationError{Reason: "dq_weights sum to zero or less"}
	}
	if math.Abs(sum-1) <= weightEpsilon {
		return w, nil
	}
	if math.Abs(sum-1) > normalizeTolerance {
		return w, &ValidationError{Reason: fmt.Sprintf("dq_weights sum to %.6f, more than 1%% off 1.0", sum)}
	}
	return DQWeights{
		Validity:    w.Validity / sum,
		Specificity: w.Specificity / sum,
		Correctness: w.Correctness / sum,
	}, nil
}

// validatePartition checks that complexity_thresholds are a contiguous,
// disjoint, covering partition of [0,1] in tier.Ordered order (spec.md §8
// invariant 2).
func validatePartition(thresholds map[tier.Tier]ThresholdRange) error {
	if len(thresholds) != len(tier.Ordered) {
		return &ValidationError{Reason: fmt.Sprintf("expected %d tier ranges, got %d", len(tier.Ordered), len(thresholds))}
	}
	expectedLo := 0.0
	for i, t := range tier.Ordered {
		r, ok := thresholds[t]
		if !ok {
			return &ValidationError{Reason: fmt.Sprintf("missing threshold range for tier %s", t)}
		}
		if r.Lo != expectedLo {
			return &ValidationError{Reason: fmt.Sprintf("tier %s lo=%.6f does not continue from previous hi=%.6f", t, r.Lo, expectedLo)}
		}
		if r.Hi <= r.Lo {
			return &ValidationError{Reason: fmt.Sprintf("tier %s has empty or inverted range [%.6f,%.6f)", t, r.Lo, r.Hi)}
		}
		if i == len(tier.Ordered)-1 {
			if r.Hi != 1.0 {
				return &ValidationError{Reason: fmt.Sprintf("last tier %s must end at 1.0, got %.6f", t, r.Hi)}
			}
		}
		expectedLo = r.Hi
	}
	return nil
}

func validateCosts(costs map[tier.Tier]TierCost) error {
	for _, t := range tier.Ordered {
		c, ok := costs[t]
		if !ok {
			return &ValidationError{Reason: fmt.Sprintf("missing cost entry for tier %s", t)}
		}
		if !finiteNonNegative(c.Input) || !finiteNonNegative(c.Output) {
			return &ValidationError{Reason: fmt.Sprintf("tier %s cost must be finite and non-negative", t)}
		}
	}
	return nil
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// Package patterns implements PatternDetector (C7): scans a sliding
// window of Decisions for four named usage patterns and emits
// ProposedUpdates for AutoUpdateGate to evaluate. It is grounded on the
// teacher's internal/stats/collector.go windowed Aggregate computation
// and internal/router/thompson_refresh.go's periodic-refresh shape
// (RefreshConfig / StartRefreshLoop), generalized from "refresh bandit
// priors" to "propose a baseline adjustment".
package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/kernel-route/routekernel/internal/baseline"
	"github.com/kernel-route/routekernel/internal/telemetry"
	"github.com/kernel-route/routekernel/internal/tier"
	"github.com/kernel-route/routekernel/internal/update"
)

const decileCount = 10

// scanLimit bounds how many decisions a single Detect call will pull from
// TelemetryStore; PatternDetector's window is time-bounded, not
// count-bounded, but a hard ceiling keeps one run's memory use bounded
// even over a very busy window.
const scanLimit = 200_000

// tierSlice is the per-tier rollup Detect computes once and every
// detector reads from, avoiding four independent scans of the same
// decision set.
type tierSlice struct {
	count        int
	successCount int
	failureCount int
}

func (s tierSlice) failureRate() float64 {
	feedback := s.successCount + s.failureCount
	if feedback == 0 {
		return 0
	}
	return float64(s.failureCount) / float64(feedback)
}

// decileSlice is one complexity decile's rollup.
type decileSlice struct {
	count        int
	successCount int
	failureCount int
}

func (s decileSlice) efficiency() (float64, bool) {
	feedback := s.successCount + s.failureCount
	if feedback == 0 {
		return 0, false
	}
	return float64(s.successCount) / float64(feedback), true
}

// Detect scans TelemetryStore's last cfg.Window of decisions and returns
// any ProposedUpdates the four detectors produce. It never mutates
// Baselines itself — proposals are handed to AutoUpdateGate, which is
// the only consumer permitted to ask BaselineStore to change.
func Detect(ctx context.Context, tstore telemetry.Store, bstore baseline.Store, cfg Config) ([]update.ProposedUpdate, error) {
	b, err := bstore.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("patterns: load baselines: %w", err)
	}

	decisions, err := tstore.QueryDecisions(ctx, telemetry.DecisionFilter{
		Since: time.Now().UTC().Add(-cfg.Window),
		Limit: scanLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("patterns: query decisions: %w", err)
	}

	byTier := map[tier.Tier]*tierSlice{}
	for _, t := range tier.Ordered {
		byTier[t] = &tierSlice{}
	}
	deciles := make([]decileSlice, decileCount)
	total := 0

	for _, d := range decisions {
		total++
		if ts, ok := byTier[d.ChosenTier]; ok {
			ts.count++
			switch d.Outcome {
			case telemetry.OutcomeSuccess:
				ts.successCount++
			case telemetry.OutcomeFailure:
				ts.failureCount++
			}
		}

		dec := decileIndex(d.Complexity)
		deciles[dec].count++
		switch d.Outcome {
		case telemetry.OutcomeSuccess:
			deciles[dec].successCount++
		case telemetry.OutcomeFailure:
			deciles[dec].failureCount++
		}
	}

	var proposals []update.ProposedUpdate
	appendIfPresent := func(u *update.ProposedUpdate, err error) error {
		if err != nil {
			return err
		}
		if u != nil {
			proposals = append(proposals, *u)
		}
		return nil
	}

	if err := appendIfPresent(detectOverProvisioning(ctx, bstore, b, decisions, byTier[tier.Strong], total, cfg)); err != nil {
		return nil, err
	}
	if err := appendIfPresent(detectUnderProvisioning(ctx, bstore, b, byTier[tier.Fast], cfg)); err != nil {
		return nil, err
	}
	if err := appendIfPresent(detectLowEfficiencyBand(ctx, bstore, b, deciles, cfg)); err != nil {
		return nil, err
	}
	if err := appendIfPresent(detectOveruse(ctx, bstore, b, byTier, total, cfg)); err != nil {
		return nil, err
	}

	return proposals, nil
}

func decileIndex(complexity float64) int {
	idx := int(complexity * decileCount)
	if idx < 0 {
		return 0
	}
	if idx >= decileCount {
		return decileCount - 1
	}
	return idx
}

// detectOverProvisioning: strong-tier share above a band high-water mark
// AND low complexity in that slice → propose raising the strong-tier
// lower bound.
func detectOverProvisioning(ctx context.Context, bstore baseline.Store, b baseline.Baselines, decisions []telemetry.Decision, strong *tierSlice, total int, cfg Config) (*update.ProposedUpdate, error) {
	if total == 0 || strong.count < cfg.MinSample {
		return nil, nil
	}
	share := float64(strong.count) / float64(total)
	if share <= cfg.OverProvisionShareHighWaterMark {
		return nil, nil
	}

	lowComplexityCount := 0
	for _, d := range decisions {
		if d.ChosenTier == tier.Strong && d.Complexity <= cfg.OverProvisionComplexityCeiling {
			lowComplexityCount++
		}
	}
	if lowComplexityCount == 0 || float64(lowComplexityCount)/float64(strong.count) < 0.5 {
		return nil, nil
	}

	r := b.ComplexityThresholds[tier.Strong]
	proposedLo := r.Lo + cfg.ThresholdStep
	if proposedLo >= r.Hi {
		return nil, nil
	}

	u, err := baseline.NewProposedUpdate(ctx, bstore, "complexity_thresholds.strong.lo", proposedLo,
		fmt.Sprintf("strong tier share %.0f%% exceeds high-water mark %.0f%%, with %d/%d strong decisions at complexity <= %.2f",
			share*100, cfg.OverProvisionShareHighWaterMark*100, lowComplexityCount, strong.count, cfg.OverProvisionComplexityCeiling),
		strong.count, confidence(strong.count, cfg.MinSample, cfg.EffectSizeWeight), update.ThresholdAdjustment)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// detectUnderProvisioning: fast-tier failure rate above threshold in its
// own band → propose lowering the fast-tier upper bound.
func detectUnderProvisioning(ctx context.Context, bstore baseline.Store, b baseline.Baselines, fast *tierSlice, cfg Config) (*update.ProposedUpdate, error) {
	if fast.count < cfg.MinSample {
		return nil, nil
	}
	if fast.failureRate() <= cfg.FastFailureRateThreshold {
		return nil, nil
	}

	r := b.ComplexityThresholds[tier.Fast]
	proposedHi := r.Hi - cfg.ThresholdStep
	if proposedHi <= r.Lo {
		return nil, nil
	}

	u, err := baseline.NewProposedUpdate(ctx, bstore, "complexity_thresholds.fast.hi", proposedHi,
		fmt.Sprintf("fast tier failure rate %.0f%% exceeds threshold %.0f%% over %d decisions",
			fast.failureRate()*100, cfg.FastFailureRateThreshold*100, fast.count),
		fast.count, confidence(fast.count, cfg.MinSample, cfg.EffectSizeWeight), update.ThresholdAdjustment)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// detectLowEfficiencyBand: any complexity decile with efficiency below a
// floor and sample size >= MinSample → propose narrowing the adjacent
// tier boundary toward that decile.
func detectLowEfficiencyBand(ctx context.Context, bstore baseline.Store, b baseline.Baselines, deciles []decileSlice, cfg Config) (*update.ProposedUpdate, error) {
	for i, d := range deciles {
		if d.count < cfg.MinSample {
			continue
		}
		eff, ok := d.efficiency()
		if !ok || eff >= cfg.EfficiencyFloor {
			continue
		}

		decileMid := (float64(i) + 0.5) / decileCount
		owningTier, ok := b.TierFor(decileMid)
		if !ok {
			continue
		}
		r := b.ComplexityThresholds[owningTier]
		targetPath, proposed := narrowingTarget(owningTier, decileMid, r, cfg.ThresholdStep)
		if targetPath == "" {
			continue
		}

		u, err := baseline.NewProposedUpdate(ctx, bstore, targetPath, proposed,
			fmt.Sprintf("complexity decile [%.1f,%.1f) has efficiency %.0f%% below floor %.0f%% over %d decisions",
				float64(i)/decileCount, float64(i+1)/decileCount, eff*100, cfg.EfficiencyFloor*100, d.count),
			d.count, confidence(d.count, cfg.MinSample, cfg.EffectSizeWeight), update.ThresholdAdjustment)
		if err != nil {
			return nil, err
		}
		return &u, nil
	}
	return nil, nil
}

// narrowingTarget picks which boundary of owningTier's range to nudge
// toward decileMid: the lower bound if decileMid sits in the bottom half
// of the range, otherwise the upper bound.
func narrowingTarget(owningTier tier.Tier, decileMid float64, r baseline.ThresholdRange, step float64) (string, float64) {
	mid := (r.Lo + r.Hi) / 2
	if decileMid < mid {
		proposed := r.Lo + step
		if proposed >= r.Hi {
			return "", 0
		}
		return fmt.Sprintf("complexity_thresholds.%s.lo", owningTier), proposed
	}
	proposed := r.Hi - step
	if proposed <= r.Lo {
		return "", 0
	}
	return fmt.Sprintf("complexity_thresholds.%s.hi", owningTier), proposed
}

// detectOveruse: a tier whose share exceeds its configured target share
// by OveruseMargin for the whole window → propose a small rebalancing
// step that narrows that tier's range: the lowest tier and any middle
// tier lose from their upper bound, the highest tier from its lower
// bound. Neighbouring tiers' usage is not compared.
func detectOveruse(ctx context.Context, bstore baseline.Store, b baseline.Baselines, byTier map[tier.Tier]*tierSlice, total int, cfg Config) (*update.ProposedUpdate, error) {
	if total == 0 {
		return nil, nil
	}
	for _, t := range tier.Ordered {
		target, ok := cfg.TargetShare[t]
		if !ok {
			continue
		}
		slice := byTier[t]
		if slice.count < cfg.MinSample {
			continue
		}
		share := float64(slice.count) / float64(total)
		if share-target <= cfg.OveruseMargin {
			continue
		}

		idx := tier.Index(t)
		var targetPath string
		var proposed float64
		r := b.ComplexityThresholds[t]
		switch {
		case idx == 0:
			proposed = r.Hi - cfg.ThresholdStep
			targetPath = fmt.Sprintf("complexity_thresholds.%s.hi", t)
			if proposed <= r.Lo {
				continue
			}
		case idx == len(tier.Ordered)-1:
			proposed = r.Lo + cfg.ThresholdStep
			targetPath = fmt.Sprintf("complexity_thresholds.%s.lo", t)
			if proposed >= r.Hi {
				continue
			}
		default:
			proposed = r.Hi - cfg.ThresholdStep
			targetPath = fmt.Sprintf("complexity_thresholds.%s.hi", t)
			if proposed <= r.Lo {
				continue
			}
		}

		u, err := baseline.NewProposedUpdate(ctx, bstore, targetPath, proposed,
			fmt.Sprintf("tier %s share %.0f%% exceeds target %.0f%% by more than margin %.0f%% over %d decisions",
				t, share*100, target*100, cfg.OveruseMargin*100, slice.count),
			slice.count, confidence(slice.count, cfg.MinSample, cfg.EffectSizeWeight), update.ThresholdAdjustment)
		if err != nil {
			return nil, err
		}
		return &u, nil
	}
	return nil, nil
}

package patterns

import (
	"time"

	"github.com/kernel-route/routekernel/internal/tier"
)

// Config holds the tunables each of the four detectors needs beyond what
// Baselines already owns. These are PatternDetector's own operating
// parameters (not routing knobs), so they live here rather than in
// Baselines — spec.md keeps Baselines limited to weights/thresholds/
// costs/gates, and leaves detector sensitivity as an implementation
// detail "re-tunable without code change" at the detector level.
type Config struct {
	// Window is the sliding lookback PatternDetector scans (default 30
	// days, spec.md §4.7).
	Window time.Duration

	// MinSample is the minimum decision count a slice needs before a
	// detector will act on it at all.
	MinSample int

	// OverProvisionShareHighWaterMark is the strong-tier share above
	// which over-provisioning is considered.
	OverProvisionShareHighWaterMark float64
	// OverProvisionComplexityCeiling is the complexity below which a
	// strong-tier decision is "low complexity" for over-provisioning
	// purposes.
	OverProvisionComplexityCeiling float64

	// FastFailureRateThreshold is the fast-tier failure rate above which
	// under-provisioning is flagged.
	FastFailureRateThreshold float64

	// EfficiencyFloor is the per-decile success-rate floor below which a
	// complexity decile is flagged as low-efficiency.
	EfficiencyFloor float64

	// TargetShare is each tier's expected share of total decisions;
	// Overuse fires when a tier's actual share exceeds its target by
	// more than OveruseMargin.
	TargetShare   map[tier.Tier]float64
	OveruseMargin float64

	// ThresholdStep is the small adjustment PatternDetector proposes to
	// a threshold boundary.
	ThresholdStep float64

	// EffectSizeWeight scales the confidence of every proposal
	// alongside the sample-size ratio (spec.md §4.7:
	// "confidence = min(1, sample_size / min_sample) × effect_size_weight").
	EffectSizeWeight float64
}

// DefaultConfig returns PatternDetector's out-of-the-box sensitivity,
// grounded on the teacher's thompson_refresh.go RefreshConfig defaults
// (a similarly-shaped "how often, how sensitive" tuning struct for a
// background analytics loop).
func DefaultConfig() Config {
	return Config{
		Window:                          30 * 24 * time.Hour,
		MinSample:                       30,
		OverProvisionShareHighWaterMark: 0.35,
		OverProvisionComplexityCeiling:  0.55,
		FastFailureRateThreshold:        0.20,
		EfficiencyFloor:                 0.55,
		TargetShare: map[tier.Tier]float64{
			tier.Fast:   0.55,
			tier.Medium: 0.30,
			tier.Strong: 0.15,
		},
		OveruseMargin:    0.15,
		ThresholdStep:    0.03,
		EffectSizeWeight: 0.95,
	}
}

func confidence(sampleSize, minSample int, effectSizeWeight float64) float64 {
	if minSample <= 0 {
		minSample = 1
	}
	ratio := float64(sampleSize) / float64(minSample)
	if ratio > 1 {
		ratio = 1
	}
	return ratio * effectSizeWeight
}

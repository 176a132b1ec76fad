package baseline

import (
	"time"

	"github.com/kernel-route/routekernel/internal/tier"
)

// DQWeights are the coefficients used by the DQ scorer's weighted total.
// They must sum to 1 within 1e-6 and each lie in [0,1].
type DQWeights struct {
	Validity    float64 `json:"validity"`
	Specificity float64 `json:"specificity"`
	Correctness float64 `json:"correctness"`
}

// ThresholdRange is a half-open complexity interval [Lo, Hi) owned by one
// tier. The Strong tier's range is closed on the right (Hi == 1.0 is
// included), matching §3's "exactly one tier per point" partition.
type ThresholdRange struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Contains reports whether c falls in [Lo, Hi), with Hi treated as
// inclusive when it equals 1.0 (the top of the complexity range).
func (r ThresholdRange) Contains(c float64) bool {
	if c < r.Lo {
		return false
	}
	if r.Hi >= 1.0 {
		return c <= r.Hi
	}
	return c < r.Hi
}

// TierCost is the per-million-token cost for one tier, in normalised cost
// units (spec.md §3 cost_per_mtok).
type TierCost struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// FeedbackGates are the sample-size, quality, and stability thresholds that
// AutoUpdateGate evaluates before auto-applying a ProposedUpdate.
type FeedbackGates struct {
	MinQueries          int     `json:"min_queries"`
	MinFeedback         int     `json:"min_feedback"`
	MinDataQuality      float64 `json:"min_data_quality"`
	RecentSample        int     `json:"recent_sample"`
	RollbackDropPct     float64 `json:"rollback_drop_pct"`
	MaxUpdatesPerWindow int     `json:"max_updates_per_window"`
	UpdateWindowQueries int     `json:"update_window_queries"`
}

// ComplexityTokenBand is one fixed token-length prior (step (i) of
// ComplexityAnalyzer's pipeline, spec.md §4.3). Bands are evaluated in
// order; the first band whose MaxTokens is not exceeded wins, and the
// last band has no effective upper bound.
type ComplexityTokenBand struct {
	MaxTokens int     `json:"max_tokens"`
	Prior     float64 `json:"prior"`
	Label     string  `json:"label"`
}

// ComplexityKeywordCategory is one weighted keyword group (step (ii) of
// ComplexityAnalyzer's pipeline). A negative Weight (e.g. conversational
// phrasing) pulls the score down rather than up.
type ComplexityKeywordCategory struct {
	Name     string   `json:"name"`
	Weight   float64  `json:"weight"`
	Keywords []string `json:"keywords"`
}

// ComplexityWeights holds every tunable ComplexityAnalyzer consults.
// Ordering and weights live here rather than as code constants so the
// pipeline is re-tunable without a code change (spec.md §4.3).
type ComplexityWeights struct {
	TokenBands                []ComplexityTokenBand      `json:"token_bands"`
	KeywordCategories         []ComplexityKeywordCategory `json:"keyword_categories"`
	PerCategoryCap            int                        `json:"per_category_cap"`
	ProjectContextCues        []string                   `json:"project_context_cues"`
	ProjectContextBonus       float64                    `json:"project_context_bonus"`
	ConversationalCues        []string                   `json:"conversational_cues"`
	ConversationalDeduction   float64                    `json:"conversational_deduction"`
	MaxHistoricalPullFraction float64                    `json:"max_historical_pull_fraction"`
}

// LineageEntry records one baseline version transition.
type LineageEntry struct {
	Version    string    `json:"version"`
	AppliedAt  time.Time `json:"applied_at"`
	ProposalID string    `json:"proposal_id,omitempty"`
	Rationale  string    `json:"rationale"`
	Author     string    `json:"author"`
}

// Baselines is the kernel's singleton, versioned configuration: DQ weights,
// complexity-tier thresholds, tier costs, the actionable-DQ threshold, and
// the feedback/gate thresholds that govern auto-update. Every numeric knob
// that the spec calls out as "an operator choice, not a kernel constant"
// lives here rather than in code (spec.md §9 Open Questions).
type Baselines struct {
	Version              string                       `json:"version"`
	DQWeights            DQWeights                    `json:"dq_weights"`
	ComplexityThresholds map[tier.Tier]ThresholdRange `json:"complexity_thresholds"`
	CostPerMtok          map[tier.Tier]TierCost       `json:"cost_per_mtok"`
	ActionableThreshold  float64                      `json:"actionable_threshold"`
	FeedbackGates        FeedbackGates                `json:"feedback_gates"`
	ComplexityWeights    ComplexityWeights            `json:"complexity_weights"`
	Lineage              []LineageEntry               `json:"lineage"`
}

// Clone returns a deep copy so callers holding a read snapshot are never
// affected by a later in-place mutation (§4.1, §5: "routing decisions are
// tagged with the baseline version they used").
func (b Baselines) Clone() Baselines {
	cp := b
	cp.ComplexityThresholds = make(map[tier.Tier]ThresholdRange, len(b.ComplexityThresholds))
	for k, v := range b.ComplexityThresholds {
		cp.ComplexityThresholds[k] = v
	}
	cp.CostPerMtok = make(map[tier.Tier]TierCost, len(b.CostPerMtok))
	for k, v := range b.CostPerMtok {
		cp.CostPerMtok[k] = v
	}
	cp.Lineage = append([]LineageEntry(nil), b.Lineage...)
	cp.ComplexityWeights.TokenBands = append([]ComplexityTokenBand(nil), b.ComplexityWeights.TokenBands...)
	cp.ComplexityWeights.KeywordCategories = append([]ComplexityKeywordCategory(nil), b.ComplexityWeights.KeywordCategories...)
	cp.ComplexityWeights.ProjectContextCues = append([]string(nil), b.ComplexityWeights.ProjectContextCues...)
	cp.ComplexityWeights.ConversationalCues = append([]string(nil), b.ComplexityWeights.ConversationalCues...)
	return cp
}

// TierFor returns the tier whose complexity range owns c, and true if one
// was found. Ranges are half-open [Lo, Hi), so a value exactly on a
// boundary belongs to the tier whose range starts there.
func (b Baselines) TierFor(c float64) (tier.Tier, bool) {
	for _, t := range tier.Ordered {
		r, ok := b.ComplexityThresholds[t]
		if ok && r.Contains(c) {
			return t, true
		}
	}
	return "", false
}

// DefaultComplexityWeights returns the out-of-the-box ComplexityAnalyzer
// tuning: four token-length bands, eight weighted keyword categories
// (capped at three matches each so repeated keywords can't dominate),
// and the project-context/conversational adjustments. These are operator
// data, not kernel constants (spec.md §4.3); BaselineStore persists
// whatever an operator later tunes them to.
func DefaultComplexityWeights() ComplexityWeights {
	return ComplexityWeights{
		TokenBands: []ComplexityTokenBand{
			{MaxTokens: 20, Prior: 0.05, Label: "trivial-length"},
			{MaxTokens: 80, Prior: 0.20, Label: "short-length"},
			{MaxTokens: 300, Prior: 0.40, Label: "medium-length"},
			{MaxTokens: 1 << 30, Prior: 0.60, Label: "long-length"},
		},
		KeywordCategories: []ComplexityKeywordCategory{
			{
				Name:   "code",
				Weight: 0.06,
				Keywords: []string{
					"function", "class", "struct", "interface", "implement", "bug",
					"compile", "syntax", "api", "endpoint", "method", "variable",
				},
			},
			{
				Name:   "architecture",
				Weight: 0.09,
				Keywords: []string{
					"architecture", "design", "schema", "migrate", "migration",
					"scalab", "distributed", "microservice", "pipeline", "infrastructure",
				},
			},
			{
				Name:   "systems-design",
				Weight: 0.14,
				Keywords: []string{
					"write-ahead", "consistency", "guarantees", "cache", "replication",
					"consensus", "durability", "fault-toleran", "partition toleran",
					"concurrency control",
				},
			},
			{
				Name:   "debugging",
				Weight: 0.08,
				Keywords: []string{
					"debug", "stack trace", "error", "exception", "crash", "panic",
					"race condition", "deadlock", "flaky", "regression",
				},
			},
			{
				Name:   "multi-file",
				Weight: 0.10,
				Keywords: []string{
					"across files", "whole repo", "entire codebase", "every module",
					"refactor", "rename", "multiple packages", "throughout the project",
				},
			},
			{
				Name:   "analysis",
				Weight: 0.07,
				Keywords: []string{
					"analyze", "compare", "evaluate", "tradeoff", "benchmark",
					"root cause", "why does", "explain the difference",
				},
			},
			{
				Name:   "creation",
				Weight: 0.08,
				Keywords: []string{
					"build", "create", "generate", "scaffold", "write a new",
					"from scratch", "design a",
				},
			},
			{
				Name:   "conversational-short",
				Weight: -0.05,
				Keywords: []string{
					"hi", "hello", "thanks", "thank you", "ok", "okay", "cool", "great",
				},
			},
		},
		PerCategoryCap:            3,
		ProjectContextCues:        []string{"this project", "this repo", "our codebase", "this file", "these files"},
		ProjectContextBonus:       0.04,
		ConversationalCues:        []string{"just wondering", "quick question", "no big deal", "just curious"},
		ConversationalDeduction:   0.03,
		MaxHistoricalPullFraction: 0.30,
	}
}

// Defaults returns a hard-coded fallback Baselines, used when the store is
// unreadable (§4.1 LOADFAIL) or on first run before any operator seed is
// persisted.
func Defaults() Baselines {
	now := time.Now().UTC()
	return Baselines{
		Version: "1.0.0",
		DQWeights: DQWeights{
			Validity:    0.4,
			Specificity: 0.3,
			Correctness: 0.3,
		},
		ComplexityThresholds: map[tier.Tier]ThresholdRange{
			tier.Fast:   {Lo: 0, Hi: 0.25},
			tier.Medium: {Lo: 0.25, Hi: 0.70},
			tier.Strong: {Lo: 0.70, Hi: 1.0},
		},
		CostPerMtok: map[tier.Tier]TierCost{
			tier.Fast:   {Input: 0.15, Output: 0.60},
			tier.Medium: {Input: 3.00, Output: 15.00},
			tier.Strong: {Input: 15.00, Output: 75.00},
		},
		ActionableThreshold: 0.75,
		FeedbackGates: FeedbackGates{
			MinQueries:          200,
			MinFeedback:         50,
			MinDataQuality:      0.6,
			RecentSample:        40,
			RollbackDropPct:     0.15,
			MaxUpdatesPerWindow: 3,
			UpdateWindowQueries: 500,
		},
		ComplexityWeights: DefaultComplexityWeights(),
		Lineage: []LineageEntry{
			{Version: "1.0.0", AppliedAt: now, Rationale: "initial defaults", Author: "kernel"},
		},
	}
}

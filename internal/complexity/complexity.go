// Package complexity implements the ComplexityAnalyzer (C3): a pure
// function scoring how demanding a query is, in [0,1]. It is grounded on
// the teacher's internal/router/engine.go EstimateTokens heuristic
// (char-count-over-4 token prior) and its scoreModels normalization
// style (safeNorm/clamp), generalized from "which model" to "how hard is
// this query".
package complexity

import (
	"fmt"
	"strings"

	"github.com/kernel-route/routekernel/internal/baseline"
	"github.com/kernel-route/routekernel/internal/textsim"
)

// Result is the output of Estimate.
type Result struct {
	Score     float64  `json:"score"`
	Tokens    int      `json:"tokens"`
	Signals   []string `json:"signals"`
	Rationale string   `json:"rationale"`
}

// Estimate scores query's complexity in [0,1] using baselines'
// ComplexityWeights (token-length priors, weighted keyword categories,
// project-context/conversational adjustments), optionally pulling toward
// the mean complexity of semantically similar past queries in history.
// The function is deterministic given identical inputs (spec.md §4.3):
// it takes no clock, no randomness, and no mutable global state, and its
// tables live in Baselines rather than as code constants so the pipeline
// is re-tunable without a code change.
func Estimate(query string, history []textsim.HistoryEntry, baselines baseline.Baselines) Result {
	w := baselines.ComplexityWeights
	tokens := estimateTokens(query)
	lower := strings.ToLower(query)

	score, band := tokenPrior(tokens, w.TokenBands)
	signals := []string{fmt.Sprintf("token-band:%s(%d tok)", band, tokens)}

	perCategoryCap := w.PerCategoryCap
	if perCategoryCap <= 0 {
		perCategoryCap = 1
	}
	for _, cat := range w.KeywordCategories {
		matches := countMatches(lower, cat.Keywords)
		if matches == 0 {
			continue
		}
		if matches > perCategoryCap {
			matches = perCategoryCap
		}
		score += cat.Weight * float64(matches)
		signals = append(signals, fmt.Sprintf("keyword:%s x%d", cat.Name, matches))
	}

	if containsAny(lower, w.ProjectContextCues) {
		score += w.ProjectContextBonus
		signals = append(signals, "project-context-cue")
	}
	if containsAny(lower, w.ConversationalCues) {
		score -= w.ConversationalDeduction
		signals = append(signals, "conversational-phrasing")
	}

	similar := textsim.Similar(query, history)
	if len(similar) > 0 {
		mean := 0.0
		for _, h := range similar {
			mean += h.Complexity
		}
		mean /= float64(len(similar))
		gap := mean - score
		pulled := gap * w.MaxHistoricalPullFraction
		score += pulled
		signals = append(signals, fmt.Sprintf("historical-pull:%d similar, mean=%.2f", len(similar), mean))
	}

	score = clamp(score, 0, 1)
	return Result{
		Score:     score,
		Tokens:    tokens,
		Signals:   signals,
		Rationale: strings.Join(signals, "; "),
	}
}

// estimateTokens mirrors the teacher's char/4 heuristic
// (router/engine.go EstimateTokens) rather than a real tokenizer: no
// corpus dependency does subword tokenization, and the spec only needs a
// stable, cheap proxy for length.
func estimateTokens(query string) int {
	return len(query) / 4
}

func tokenPrior(tokens int, bands []baseline.ComplexityTokenBand) (float64, string) {
	for _, b := range bands {
		if tokens <= b.MaxTokens {
			return b.Prior, b.Label
		}
	}
	if len(bands) == 0 {
		return 0, "unscored"
	}
	last := bands[len(bands)-1]
	return last.Prior, last.Label
}

func countMatches(lower string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

func containsAny(lower string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package textsim provides the token-set Jaccard similarity used by both
// ComplexityAnalyzer (historical pull, spec.md §4.3) and DQScorer
// (correctness against similar past decisions, spec.md §4.4). Keeping it
// in its own package lets both import the same similarity notion without
// complexity and dqscore depending on each other.
package textsim

import (
	"strings"
	"unicode"
)

// Tokenize lowercases s and splits it into a set of alphanumeric words,
// matching the teacher's EstimateTokens-adjacent style of simple,
// allocation-light lexical processing rather than a full tokenizer
// library (no corpus dependency targets this).
func Tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b| for two token sets, 0 when both are
// empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// SimilarityThreshold is the minimum Jaccard score (spec.md §4.3/§4.4) for
// two queries to be considered "semantically similar" for historical
// pull and correctness scoring.
const SimilarityThreshold = 0.3

// HistoryEntry is one past query a caller supplies for similarity-based
// lookups. It is intentionally storage-agnostic: callers (internal/kernelrouter)
// populate it from telemetry.Decision records, keeping ComplexityAnalyzer
// and DQScorer pure functions with no telemetry dependency.
type HistoryEntry struct {
	Query      string
	Complexity float64
	DQTotal    float64
	// Success is nil when no outcome signal has been attached yet.
	Success *bool
}

// Similar returns the entries in history whose Jaccard similarity to
// query meets SimilarityThreshold.
func Similar(query string, history []HistoryEntry) []HistoryEntry {
	qTokens := Tokenize(query)
	var out []HistoryEntry
	for _, h := range history {
		if Jaccard(qTokens, Tokenize(h.Query)) >= SimilarityThreshold {
			out = append(out, h)
		}
	}
	return out
}

// Package kernelrouter implements the Router (C5): orchestrates
// ComplexityAnalyzer and DQScorer across all candidate tiers, selects a
// winner with cost-aware tie-breaking, and durably records the decision.
// It is grounded on the teacher's internal/router/engine.go RouteAndSend
// (context-deadline enforcement, slog structured logging) and
// FindLargerContextModel (escalation-adjacent fallback-on-failure
// reasoning), generalized from "send to a provider" to "pick a tier and
// record why".
package kernelrouter

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kernel-route/routekernel/internal/baseline"
	"github.com/kernel-route/routekernel/internal/complexity"
	"github.com/kernel-route/routekernel/internal/dqscore"
	"github.com/kernel-route/routekernel/internal/events"
	"github.com/kernel-route/routekernel/internal/telemetry"
	"github.com/kernel-route/routekernel/internal/textsim"
	"github.com/kernel-route/routekernel/internal/tier"
)

const (
	// defaultCeiling is Router's hard time budget before it falls back to
	// the rule-based router (spec.md §5).
	defaultCeiling = 200 * time.Millisecond

	// tieBreakBand is how close (in DQ total) a non-top candidate must be
	// to the leader to be considered for the cost-aware tie-break.
	tieBreakBand = 0.05

	// nominalInputTokens/nominalOutputTokens are the heuristic used to
	// estimate cost for the winning tier (spec.md §4.5 step 4).
	nominalInputTokens  = 100
	nominalOutputTokens = 500

	// queryPreviewMaxLen bounds Decision.QueryPreview (spec.md §3).
	queryPreviewMaxLen = 50

	// historyLookback bounds how many recent decisions Router pulls for
	// ComplexityAnalyzer/DQScorer's similarity lookups, keeping the hot
	// path's history scan bounded regardless of store size.
	historyLookback = 200
)

// Router orchestrates C3+C4 over all candidate tiers and records the
// resulting Decision in TelemetryStore.
type Router struct {
	baselines baseline.Store
	telemetry telemetry.Store
	bus       *events.Bus
	logger    *slog.Logger
	ceiling   time.Duration
}

// Option customizes a Router at construction.
type Option func(*Router)

// WithCeiling overrides the default 200ms routing ceiling.
func WithCeiling(d time.Duration) Option {
	return func(r *Router) { r.ceiling = d }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New constructs a Router over the given BaselineStore and
// TelemetryStore, publishing lifecycle events on bus.
func New(baselines baseline.Store, tstore telemetry.Store, bus *events.Bus, opts ...Option) *Router {
	r := &Router{
		baselines: baselines,
		telemetry: tstore,
		bus:       bus,
		logger:    slog.Default(),
		ceiling:   defaultCeiling,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route computes complexity, scores every tier, selects a winner (or
// honors overrideTier), durably appends the resulting Decision, and
// returns it. If overrideTier is non-empty, routing is bypassed but a
// Decision is still recorded with Overridden=true.
func (r *Router) Route(ctx context.Context, query, sessionID string, overrideTier tier.Tier) (telemetry.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.ceiling)
	defer cancel()

	baselines, err := r.baselines.Load(ctx)
	if err != nil {
		return telemetry.Decision{}, fmt.Errorf("kernelrouter: load baselines: %w", err)
	}

	history, err := r.recentHistory(ctx)
	if err != nil {
		r.logger.Warn("history lookup failed, scoring without history", "error", err)
	}

	compl := complexity.Estimate(query, history, baselines)

	var (
		chosen       tier.Tier
		dq           dqscore.Result
		alternatives []telemetry.Alternative
		fellBack     bool
	)

	if overrideTier != "" {
		chosen = overrideTier
		dq = dqscore.Score(query, compl.Score, chosen, history, baselines)
	} else if ctx.Err() != nil {
		chosen, dq = r.fallbackRoute(query, compl.Score, history, baselines)
		fellBack = true
	} else {
		chosen, dq, alternatives = r.selectTier(query, compl.Score, history, baselines)
		if ctx.Err() != nil {
			// The ceiling fired while we were scoring; discard the
			// in-progress ranking and use the rule-based fallback instead.
			chosen, dq = r.fallbackRoute(query, compl.Score, history, baselines)
			alternatives = nil
			fellBack = true
		}
	}

	cost := estimateCost(chosen, baselines)
	d := telemetry.Decision{
		ID:                  uuid.NewString(),
		Ts:                  time.Now().UTC(),
		QueryHash:           queryHash(query),
		QueryPreview:        preview(query),
		Complexity:          compl.Score,
		ComplexityRationale: compl.Rationale,
		ChosenTier:          chosen,
		DQ: telemetry.DQBreakdown{
			Total:       dq.Total,
			Validity:    dq.Validity,
			Specificity: dq.Specificity,
			Correctness: dq.Correctness,
		},
		Alternatives:    alternatives,
		CostEstimate:    cost,
		BaselineVersion: baselines.Version,
		SessionID:       sessionID,
		Overridden:      overrideTier != "",
	}

	if err := r.telemetry.Append(ctx, d); err != nil {
		r.logger.Error("routing persist failed", "error", err, "decision_id", d.ID)
		return telemetry.Decision{}, fmt.Errorf("%w: %v", ErrRoutingPersistFailed, err)
	}

	if fellBack && r.bus != nil {
		r.bus.Publish(events.Event{
			Type:       events.EventFallbackUsed,
			DecisionID: d.ID,
			Tier:       string(chosen),
			Complexity: compl.Score,
			Reason:     "routing ceiling exceeded",
		})
	}
	if r.bus != nil {
		r.bus.Publish(events.Event{
			Type:            events.EventDecisionRouted,
			DecisionID:      d.ID,
			SessionID:       sessionID,
			Tier:            string(chosen),
			Complexity:      compl.Score,
			DQTotal:         dq.Total,
			CostEstimate:    cost,
			BaselineVersion: baselines.Version,
		})
	}

	return d, nil
}

// selectTier ranks every configured tier by DQ descending and applies the
// cost-aware tie-break: a candidate within tieBreakBand of the leader's
// DQ total wins if it is cheaper (spec.md §4.5 step 3).
func (r *Router) selectTier(query string, compl float64, history []textsim.HistoryEntry, baselines baseline.Baselines) (tier.Tier, dqscore.Result, []telemetry.Alternative) {
	type candidate struct {
		tier tier.Tier
		dq   dqscore.Result
		cost float64
	}
	candidates := make([]candidate, 0, len(tier.Ordered))
	for _, t := range tier.Ordered {
		dq := dqscore.Score(query, compl, t, history, baselines)
		candidates = append(candidates, candidate{tier: t, dq: dq, cost: estimateCost(t, baselines)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].dq.Total > candidates[j].dq.Total
	})

	winner := candidates[0]
	for _, c := range candidates[1:] {
		if winner.dq.Total-c.dq.Total <= tieBreakBand && c.cost < winner.cost {
			winner = c
		}
	}

	alternatives := make([]telemetry.Alternative, 0, len(candidates)-1)
	for _, c := range candidates {
		if c.tier == winner.tier {
			continue
		}
		alternatives = append(alternatives, telemetry.Alternative{
			Tier: c.tier,
			DQ: telemetry.DQBreakdown{
				Total:       c.dq.Total,
				Validity:    c.dq.Validity,
				Specificity: c.dq.Specificity,
				Correctness: c.dq.Correctness,
			},
		})
	}
	return winner.tier, winner.dq, alternatives
}

// fallbackRoute is the last-known-good rule-based router used when the
// routing ceiling is exceeded: it reads the tier directly from the
// baselines' complexity_thresholds partition rather than scoring every
// tier (spec.md §5).
func (r *Router) fallbackRoute(query string, compl float64, history []textsim.HistoryEntry, baselines baseline.Baselines) (tier.Tier, dqscore.Result) {
	t, ok := baselines.TierFor(compl)
	if !ok {
		t = tier.Strong
	}
	return t, dqscore.Score(query, compl, t, history, baselines)
}

// estimateCost prices the nominal 100-in/500-out token heuristic against
// a tier's cost_per_mtok (spec.md §4.5 step 4; these numerics live in
// Baselines so they evolve without code change).
func estimateCost(t tier.Tier, baselines baseline.Baselines) float64 {
	c, ok := baselines.CostPerMtok[t]
	if !ok {
		return 0
	}
	return (nominalInputTokens/1_000_000.0)*c.Input + (nominalOutputTokens/1_000_000.0)*c.Output
}

// recentHistory loads the most recent decisions as textsim.HistoryEntry
// values for ComplexityAnalyzer's historical pull and DQScorer's
// correctness lookup.
func (r *Router) recentHistory(ctx context.Context) ([]textsim.HistoryEntry, error) {
	decisions, err := r.telemetry.QueryDecisions(ctx, telemetry.DecisionFilter{Limit: historyLookback})
	if err != nil {
		return nil, err
	}
	out := make([]textsim.HistoryEntry, 0, len(decisions))
	for _, d := range decisions {
		h := textsim.HistoryEntry{
			Query:      d.QueryPreview,
			Complexity: d.Complexity,
			DQTotal:    d.DQ.Total,
		}
		switch d.Outcome {
		case telemetry.OutcomeSuccess:
			succ := true
			h.Success = &succ
		case telemetry.OutcomeFailure:
			fail := false
			h.Success = &fail
		}
		out = append(out, h)
	}
	return out, nil
}

func queryHash(query string) string {
	sum := md5.Sum([]byte(query))
	return hex.EncodeToString(sum[:])
}

func preview(query string) string {
	r := []rune(query)
	if len(r) <= queryPreviewMaxLen {
		return query
	}
	return string(r[:queryPreviewMaxLen])
}

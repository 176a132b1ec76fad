// Package autoupdate implements AutoUpdateGate (C8): evaluates
// ProposedUpdates from PatternDetector against usage/quality/stability
// gates, applies or previews them, and watches for post-apply efficiency
// regressions to auto-revert. It is grounded on the teacher's
// internal/vault.go backup-before-rotate idiom (take a restorable snapshot
// before any destructive change) and internal/circuitbreaker/breaker.go's
// closed/open state machine, generalized here to "did the last apply
// regress efficiency".
package autoupdate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kernel-route/routekernel/internal/baseline"
	"github.com/kernel-route/routekernel/internal/events"
	"github.com/kernel-route/routekernel/internal/patterns"
	"github.com/kernel-route/routekernel/internal/telemetry"
	"github.com/kernel-route/routekernel/internal/update"
)

// allTimeWindow approximates "since the kernel started keeping records"
// for the total_queries_all_time gate predicate — TelemetryStore has no
// separate all-time counter, so the gate reads Stats over a window wide
// enough to cover any realistic deployment lifetime.
const allTimeWindow = 10 * 365 * 24 * time.Hour

// Gate is AutoUpdateGate's implementation. "The full window" in its gate
// predicates reuses PatternDetector's Config.Window: the same notion of
// "the window usage patterns were observed over".
type Gate struct {
	baselines   baseline.Store
	telemetry   telemetry.Store
	patternsCfg patterns.Config
	bus         *events.Bus
	logger      *slog.Logger

	mu        sync.Mutex
	proposals map[string]*trackedProposal
}

// Option configures a Gate at construction time.
type Option func(*Gate)

// WithLogger overrides the gate's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithBus attaches an events.Bus the gate publishes lifecycle events to.
func WithBus(bus *events.Bus) Option {
	return func(g *Gate) { g.bus = bus }
}

// New constructs a Gate over the given BaselineStore/TelemetryStore and
// PatternDetector sensitivity config.
func New(bstore baseline.Store, tstore telemetry.Store, cfg patterns.Config, opts ...Option) *Gate {
	g := &Gate{
		baselines:   bstore,
		telemetry:   tstore,
		patternsCfg: cfg,
		logger:      slog.Default(),
		proposals:   map[string]*trackedProposal{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate runs PatternDetector over the configured window, tracks any new
// proposals, and returns every currently-tracked proposal together with
// its gate evaluation (spec.md §4.8 `Evaluate() -> Report`).
func (g *Gate) Evaluate(ctx context.Context) (Report, error) {
	found, err := patterns.Detect(ctx, g.telemetry, g.baselines, g.patternsCfg)
	if err != nil {
		return Report{}, fmt.Errorf("autoupdate: detect patterns: %w", err)
	}

	g.mu.Lock()
	for _, u := range found {
		if _, exists := g.proposals[u.ID]; !exists {
			g.proposals[u.ID] = &trackedProposal{ProposedUpdate: u}
		}
	}
	g.mu.Unlock()

	report := Report{GeneratedAt: time.Now().UTC()}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, tp := range g.proposals {
		gr, gerr := g.evaluateGates(ctx, tp.ProposedUpdate)
		if gerr != nil {
			return Report{}, gerr
		}
		report.Proposals = append(report.Proposals, ReportEntry{ProposedUpdate: tp.ProposedUpdate, Gate: gr})
	}
	return report, nil
}

// evaluateGates checks every gate predicate in spec.md §4.8 against the
// proposal's tracked sample window, window-wide usage, and the current
// count of updates already applied in this window.
func (g *Gate) evaluateGates(ctx context.Context, u update.ProposedUpdate) (GateResult, error) {
	b, err := g.baselines.Load(ctx)
	if err != nil {
		return GateResult{}, err
	}
	gates := b.FeedbackGates

	allTime, err := g.telemetry.Stats(ctx, telemetry.Window{Name: "all-time", Duration: allTimeWindow})
	if err != nil {
		return GateResult{}, err
	}
	windowStats, err := g.telemetry.Stats(ctx, telemetry.Window{Name: "pattern-window", Duration: g.patternsCfg.Window})
	if err != nil {
		return GateResult{}, err
	}
	recentStats, err := g.recentSampleStats(ctx, gates.RecentSample)
	if err != nil {
		return GateResult{}, err
	}

	feedbackCount := feedbackCount(windowStats)
	dataQuality := avgDQTotal(windowStats)
	updatesInWindow := g.updatesAppliedSince(time.Now().UTC().Add(-g.patternsCfg.Window))

	checks := []Check{
		{Name: "total_queries_all_time", Passed: allTime.TotalDecisions >= gates.MinQueries, Want: float64(gates.MinQueries), Got: float64(allTime.TotalDecisions)},
		{Name: "feedback_count", Passed: feedbackCount >= gates.MinFeedback, Want: float64(gates.MinFeedback), Got: float64(feedbackCount)},
		{Name: "data_quality", Passed: dataQuality >= gates.MinDataQuality, Want: gates.MinDataQuality, Got: dataQuality},
		{Name: "performance_recent_sample", Passed: avgDQTotal(recentStats) >= b.ActionableThreshold, Want: b.ActionableThreshold, Got: avgDQTotal(recentStats)},
		{Name: "performance_full_window", Passed: dataQuality >= b.ActionableThreshold, Want: b.ActionableThreshold, Got: dataQuality},
		{Name: "updates_in_current_window", Passed: updatesInWindow < gates.MaxUpdatesPerWindow, Want: float64(gates.MaxUpdatesPerWindow), Got: float64(updatesInWindow)},
	}

	result := GateResult{Checks: checks}
	result.Passed = true
	for _, c := range checks {
		if !c.Passed {
			result.Passed = false
		}
	}
	return result, nil
}

// recentSampleStats approximates "performance over the most recent N
// decisions" with a Stats call bounded to however much of the pattern
// window is needed to contain roughly N decisions; TelemetryStore's Stats
// is time-windowed rather than count-windowed, so the gate widens the
// window geometrically until it has enough decisions or gives up at the
// full pattern window.
func (g *Gate) recentSampleStats(ctx context.Context, n int) (telemetry.Stats, error) {
	window := time.Hour
	for window < g.patternsCfg.Window {
		stats, err := g.telemetry.Stats(ctx, telemetry.Window{Name: "recent-sample", Duration: window})
		if err != nil {
			return telemetry.Stats{}, err
		}
		if stats.TotalDecisions >= n {
			return stats, nil
		}
		window *= 2
	}
	return g.telemetry.Stats(ctx, telemetry.Window{Name: "recent-sample", Duration: g.patternsCfg.Window})
}

func (g *Gate) updatesAppliedSince(cutoff time.Time) int {
	count := 0
	for _, tp := range g.proposals {
		if tp.Status == update.Applied && !tp.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count
}

func feedbackCount(s telemetry.Stats) int {
	total := 0
	for _, ts := range s.ByTier {
		total += ts.SuccessCount + ts.FailureCount
	}
	return total
}

func avgDQTotal(s telemetry.Stats) float64 {
	var sum float64
	var n int
	for _, ts := range s.ByTier {
		if ts.DecisionCount == 0 {
			continue
		}
		sum += ts.AvgDQTotal * float64(ts.DecisionCount)
		n += ts.DecisionCount
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

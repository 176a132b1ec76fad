package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus collector the kernel exposes under
// /metrics, adapted from the teacher's registry shape for the routing/
// meta-learning domain instead of per-provider request accounting.
type Registry struct {
	reg *prometheus.Registry

	RoutesTotal      *prometheus.CounterVec
	RouteLatencyMs   *prometheus.HistogramVec
	CostEstimateUSD  *prometheus.CounterVec
	FallbacksTotal   prometheus.Counter
	RateLimitedTotal prometheus.Counter

	DQTotal          *prometheus.HistogramVec
	ComplexityScore  *prometheus.HistogramVec
	FeedbackTotal    *prometheus.CounterVec

	MaintenanceUp           prometheus.Gauge
	MaintenanceCircuitState prometheus.Gauge
	ProposalsGenerated      prometheus.Counter
	BaselineApplied         prometheus.Counter
	BaselineRolledBack      prometheus.Counter
	BaselineVersion         prometheus.Gauge
}

// New constructs a Registry with every collector registered against a
// fresh prometheus.Registry (never the global DefaultRegisterer, so tests
// and multiple kernel instances in one process never collide).
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RoutesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routekernel_routes_total",
			Help: "Total routing decisions made, by chosen tier and fallback status",
		}, []string{"tier", "fallback"}),
		RouteLatencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routekernel_route_latency_ms",
			Help:    "Route() wall-clock latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"tier"}),
		CostEstimateUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routekernel_cost_estimate_usd_total",
			Help: "Estimated cost of routed decisions, by tier",
		}, []string{"tier"}),
		FallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routekernel_fallbacks_total",
			Help: "Total decisions routed via the rule-based fallback (ceiling exceeded)",
		}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routekernel_rate_limited_total",
			Help: "Total admin-surface requests rejected by the rate limiter",
		}),
		DQTotal: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routekernel_dq_total",
			Help:    "Distribution of total decision-quality score, by chosen tier",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"tier"}),
		ComplexityScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routekernel_complexity_score",
			Help:    "Distribution of estimated query complexity, by chosen tier",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"tier"}),
		FeedbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routekernel_feedback_total",
			Help: "Total outcome signals recorded, by signal kind",
		}, []string{"signal"}),
		MaintenanceUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routekernel_maintenance_up",
			Help: "Set to 1 once a maintenance run completes, via Temporal or in-process; never reset to 0",
		}),
		MaintenanceCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routekernel_maintenance_circuit_state",
			Help: "Maintenance executor circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		ProposalsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routekernel_proposals_generated_total",
			Help: "Total ProposedUpdates emitted by PatternDetector",
		}),
		BaselineApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routekernel_baseline_applied_total",
			Help: "Total ProposedUpdates applied by AutoUpdateGate",
		}),
		BaselineRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routekernel_baseline_rolled_back_total",
			Help: "Total baseline rollbacks, manual or auto-reverted",
		}),
		BaselineVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routekernel_baseline_version_patch",
			Help: "Patch component of the current baseline version, for at-a-glance drift tracking",
		}),
	}
	reg.MustRegister(
		m.RoutesTotal, m.RouteLatencyMs, m.CostEstimateUSD, m.FallbacksTotal, m.RateLimitedTotal,
		m.DQTotal, m.ComplexityScore, m.FeedbackTotal,
		m.MaintenanceUp, m.MaintenanceCircuitState, m.ProposalsGenerated, m.BaselineApplied,
		m.BaselineRolledBack, m.BaselineVersion,
	)
	return m
}

// Handler serves this registry's collectors in the Prometheus text format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

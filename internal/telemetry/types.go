// Package telemetry implements the TelemetryStore (C2): an append-only
// event log of routing decisions and outcome signals, plus derived
// indexed aggregates for O(log n) time-window queries. It is grounded on
// the teacher's internal/store (SQLite CRUD + migration idiom) and
// internal/tsdb (time-series point buffering/retention idiom), with the
// event vocabulary replaced end to end for decision-quality routing
// rather than LLM request/response logging.
package telemetry

import (
	"time"

	"github.com/kernel-route/routekernel/internal/tier"
)

// Outcome is the terminal state of a Decision's lifecycle.
type Outcome string

const (
	OutcomeOpen           Outcome = "open"
	OutcomeSuccess        Outcome = "success"
	OutcomeFailure        Outcome = "failure"
	OutcomeUnknownTimeout Outcome = "unknown_timeout"
)

// Signal is the kind of outcome report FeedbackIngest accepts.
type Signal string

const (
	SignalSuccess    Signal = "success"
	SignalFailure    Signal = "failure"
	SignalEscalation Signal = "escalation"
)

// EscalationReason narrows why an escalation signal fired.
type EscalationReason string

const (
	ReasonExitCode             EscalationReason = "exit_code"
	ReasonCapabilityLimitation EscalationReason = "capability_limitation"
	ReasonTruncatedResponse    EscalationReason = "truncated_response"
	ReasonUserRejection        EscalationReason = "user_rejection"
)

// SessionStatus is the terminal state of a SessionOutcome.
type SessionStatus string

const (
	SessionCompleted  SessionStatus = "completed"
	SessionInterrupted SessionStatus = "interrupted"
	SessionAbandoned  SessionStatus = "abandoned"
)

// DQBreakdown is the per-component decision-quality score for one tier
// candidate (mirrors dqscore.Result without importing that package, to
// keep telemetry dependency-free of the scoring internals it merely
// records).
type DQBreakdown struct {
	Total       float64 `json:"total"`
	Validity    float64 `json:"validity"`
	Specificity float64 `json:"specificity"`
	Correctness float64 `json:"correctness"`
}

// Alternative is a non-winning tier candidate considered by the router.
type Alternative struct {
	Tier tier.Tier   `json:"tier"`
	DQ   DQBreakdown `json:"dq"`
}

// Decision is a persistent record of one routing choice. It is created by
// Router on success and thereafter mutated only by FeedbackIngest, which
// may attach an outcome and feedback timestamp. Decisions are never
// deleted.
type Decision struct {
	ID                   string        `json:"id"`
	Ts                   time.Time     `json:"ts"`
	QueryHash            string        `json:"query_hash"`
	QueryPreview         string        `json:"query_preview"`
	Complexity           float64       `json:"complexity"`
	ComplexityRationale  string        `json:"complexity_rationale"`
	ChosenTier           tier.Tier     `json:"chosen_tier"`
	DQ                   DQBreakdown   `json:"dq"`
	Alternatives         []Alternative `json:"alternatives"`
	CostEstimate         float64       `json:"cost_estimate"`
	BaselineVersion      string        `json:"baseline_version"`
	SessionID            string        `json:"session_id,omitempty"`
	Overridden           bool          `json:"overridden"`
	PredecessorDecisionID string       `json:"predecessor_decision_id,omitempty"`
	EscalationReason     EscalationReason `json:"escalation_reason,omitempty"`

	Outcome    Outcome    `json:"outcome"`
	FeedbackTs *time.Time `json:"feedback_ts,omitempty"`
}

// OutcomeSignalRecord is the persisted form of an inbound outcome report.
// Exactly one of DecisionID/QueryPrefix is set by the caller; the store
// resolves QueryPrefix via best-effort prefix match and records the
// resulting MatchConfidence.
type OutcomeSignalRecord struct {
	ID               string           `json:"id"`
	Ts               time.Time        `json:"ts"`
	DecisionID       string           `json:"decision_id,omitempty"`
	QueryPrefix      string           `json:"query_prefix,omitempty"`
	ResolvedDecisionID string         `json:"resolved_decision_id"`
	MatchConfidence  float64          `json:"match_confidence"`
	Signal           Signal           `json:"signal"`
	EscalationReason EscalationReason `json:"escalation_reason,omitempty"`
}

// SessionOutcome is a derived, recomputable aggregate over one session's
// decisions and outcome signals.
type SessionOutcome struct {
	SessionID      string        `json:"session_id"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	MessageCount   int           `json:"message_count"`
	ToolCount      int           `json:"tool_count"`
	Quality        float64       `json:"quality"` // RebuildAggregates writes 0; not computed
	ComplexityAvg  float64       `json:"complexity_avg"`
	TierEfficiency float64       `json:"tier_efficiency"` // [0,1]
	Outcome        SessionStatus `json:"outcome"`
}

// EscalationEvent links a retried Decision to the Decision it escalated
// from. Each retry is recorded as a brand-new Decision; escalation never
// mutates the predecessor (spec's "each retry is a new Decision with an
// EscalationEvent linking it to its predecessor").
type EscalationEvent struct {
	ID                   string           `json:"id"`
	Ts                   time.Time        `json:"ts"`
	PredecessorDecisionID string          `json:"predecessor_decision_id"`
	RetryDecisionID      string           `json:"retry_decision_id"`
	Reason               EscalationReason `json:"reason"`
}

// DecisionFilter narrows QueryDecisions results.
type DecisionFilter struct {
	SessionID string
	Tier      tier.Tier
	Since     time.Time
	Until     time.Time
	Outcome   Outcome
	Limit     int
}

// SessionFilter narrows QuerySessions results.
type SessionFilter struct {
	Since time.Time
	Until time.Time
	Limit int
}

// Window is a named aggregation interval, mirroring the teacher's
// stats.Window shape (internal/stats/collector.go).
type Window struct {
	Name     string
	Duration time.Duration
}

// DefaultWindows are 1h, 24h, 7d and 30d; the 30-day window matches
// PatternDetector's default sliding window (spec.md §4.7).
var DefaultWindows = []Window{
	{Name: "1h", Duration: time.Hour},
	{Name: "24h", Duration: 24 * time.Hour},
	{Name: "7d", Duration: 7 * 24 * time.Hour},
	{Name: "30d", Duration: 30 * 24 * time.Hour},
}

// TierStats is one tier's rolling aggregate within a Window.
type TierStats struct {
	Tier            tier.Tier `json:"tier"`
	DecisionCount   int       `json:"decision_count"`
	SuccessCount    int       `json:"success_count"`
	FailureCount    int       `json:"failure_count"`
	UnknownCount    int       `json:"unknown_count"`
	SuccessRate     float64   `json:"success_rate"`
	AvgDQTotal      float64   `json:"avg_dq_total"`
	AvgComplexity   float64   `json:"avg_complexity"`
	AvgCostEstimate float64   `json:"avg_cost_estimate"`
	EscalationCount int       `json:"escalation_count"`
}

// Stats is a Stats(window) response: one TierStats per configured tier
// plus totals, used by AutoUpdateGate and by `kernelctl stats`.
type Stats struct {
	Window        Window      `json:"window"`
	GeneratedAt   time.Time   `json:"generated_at"`
	TotalDecisions int        `json:"total_decisions"`
	ByTier        []TierStats `json:"by_tier"`
}

// Package feedback implements FeedbackIngest (C6): validates inbound
// outcome signals, attaches them to the decision they describe, and
// sweeps decisions past their grace period into unknown_timeout. It is
// grounded on the teacher's internal/stats/collector.go windowed
// aggregation idiom (reused here via telemetry.Store.Stats rather than a
// second in-memory ring buffer, since TelemetryStore already derives the
// same per-tier counters durably) and internal/health/tracker.go's
// cooldown/grace-period state-transition shape.
package feedback

import (
	"context"
	"errors"
	"fmt"

	"github.com/kernel-route/routekernel/internal/telemetry"
)

// ErrInvalidSignal is returned by Record when the input fails validation
// (neither or both of DecisionID/QueryPrefix set, unknown Signal value,
// or an escalation signal missing its retry decision id).
var ErrInvalidSignal = errors.New("feedback: invalid signal")

// SignalInput is what a caller submits to Record.
type SignalInput struct {
	DecisionID  string
	QueryPrefix string
	Signal      telemetry.Signal
	// EscalationReason is required when Signal == SignalEscalation.
	EscalationReason telemetry.EscalationReason
	// RetryDecisionID is the id of the new Decision created for the
	// escalated retry (required when Signal == SignalEscalation; see
	// DESIGN.md's "escalation feedback target" decision — escalation
	// never mutates the original decision, it links to a new one).
	RetryDecisionID string
}

func (in SignalInput) validate() error {
	if (in.DecisionID == "") == (in.QueryPrefix == "") {
		return fmt.Errorf("%w: exactly one of decision_id or query_prefix must be set", ErrInvalidSignal)
	}
	switch in.Signal {
	case telemetry.SignalSuccess, telemetry.SignalFailure:
	case telemetry.SignalEscalation:
		if in.RetryDecisionID == "" {
			return fmt.Errorf("%w: escalation signal requires retry_decision_id", ErrInvalidSignal)
		}
		switch in.EscalationReason {
		case telemetry.ReasonExitCode, telemetry.ReasonCapabilityLimitation,
			telemetry.ReasonTruncatedResponse, telemetry.ReasonUserRejection:
		default:
			return fmt.Errorf("%w: unknown escalation_reason %q", ErrInvalidSignal, in.EscalationReason)
		}
	default:
		return fmt.Errorf("%w: unknown signal %q", ErrInvalidSignal, in.Signal)
	}
	return nil
}

// Ingest is FeedbackIngest's implementation.
type Ingest struct {
	store telemetry.Store
}

// New constructs an Ingest over the given TelemetryStore.
func New(store telemetry.Store) *Ingest {
	return &Ingest{store: store}
}

// Record validates in and attaches it to its target decision. For
// SignalEscalation it additionally appends an EscalationEvent linking the
// original decision to in.RetryDecisionID, without mutating the original
// decision beyond the outcome attachment itself (spec.md §4.6).
func (i *Ingest) Record(ctx context.Context, in SignalInput) (telemetry.OutcomeSignalRecord, error) {
	if err := in.validate(); err != nil {
		return telemetry.OutcomeSignalRecord{}, err
	}

	rec, err := i.store.AttachOutcome(ctx, in.DecisionID, in.QueryPrefix, in.Signal, in.EscalationReason)
	if err != nil {
		return telemetry.OutcomeSignalRecord{}, err
	}

	if in.Signal == telemetry.SignalEscalation {
		if err := i.store.RecordEscalation(ctx, rec.ResolvedDecisionID, in.RetryDecisionID, in.EscalationReason); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// ExpireGracePeriod sweeps open decisions older than grace into
// unknown_timeout (spec.md §4.6's per-decision state machine
// `open -> (success|failure|unknown_timeout)`), returning how many were
// transitioned.
func (i *Ingest) ExpireGracePeriod(ctx context.Context, grace GracePeriod) (int, error) {
	return i.store.ExpireUnknownTimeouts(ctx, grace.Duration())
}

// TierCounters returns the rolling per-tier success/failure counters for
// window, delegating to TelemetryStore.Stats rather than keeping a
// second in-memory rolling window — the store's derived aggregates are
// already the authoritative rolling counters (spec.md §4.2).
func (i *Ingest) TierCounters(ctx context.Context, window telemetry.Window) (telemetry.Stats, error) {
	return i.store.Stats(ctx, window)
}

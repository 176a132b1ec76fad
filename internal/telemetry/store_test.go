package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kernel-route/routekernel/internal/tier"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "telemetry.db")
	s, err := NewSQLiteStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleDecision(id, sessionID string, t tier.Tier) Decision {
	return Decision{
		ID:                  id,
		Ts:                  time.Now().UTC(),
		QueryHash:           "hash-" + id,
		QueryPreview:        "refactor the router package",
		Complexity:          0.42,
		ComplexityRationale: "keyword:refactor",
		ChosenTier:          t,
		DQ:                  DQBreakdown{Total: 0.81, Validity: 0.9, Specificity: 0.8, Correctness: 0.7},
		Alternatives:        []Alternative{{Tier: tier.Fast, DQ: DQBreakdown{Total: 0.4}}},
		CostEstimate:        0.002,
		BaselineVersion:     "1.0.0",
		SessionID:           sessionID,
	}
}

func TestAppendAndQueryDecisions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := sampleDecision("d1", "sess-1", tier.Medium)
	require.NoError(t, s.Append(ctx, d))

	got, err := s.QueryDecisions(ctx, DecisionFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "d1", got[0].ID)
	require.Equal(t, OutcomeOpen, got[0].Outcome)
	require.Len(t, got[0].Alternatives, 1)
}

func TestAttachOutcomeByDecisionIDIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, sampleDecision("d1", "sess-1", tier.Fast)))

	rec1, err := s.AttachOutcome(ctx, "d1", "", SignalSuccess, "")
	require.NoError(t, err)
	require.Equal(t, "d1", rec1.ResolvedDecisionID)
	require.Equal(t, 1.0, rec1.MatchConfidence)

	rec2, err := s.AttachOutcome(ctx, "d1", "", SignalFailure, "")
	require.NoError(t, err)
	require.Equal(t, rec1.ID, rec2.ID, "second attach for the same decision must be a no-op")
	require.Equal(t, SignalSuccess, rec2.Signal)

	decs, err := s.QueryDecisions(ctx, DecisionFilter{})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, decs[0].Outcome)
}

func TestAttachOutcomeUnknownDecisionID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AttachOutcome(context.Background(), "nope", "", SignalSuccess, "")
	require.ErrorIs(t, err, ErrDecisionNotFound)
}

func TestAttachOutcomeByPrefixResolvesMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := sampleDecision("d1", "sess-1", tier.Fast)
	older.Ts = time.Now().UTC().Add(-time.Minute)
	older.QueryPreview = "fix the flaky test"
	require.NoError(t, s.Append(ctx, older))

	newer := sampleDecision("d2", "sess-1", tier.Fast)
	newer.QueryPreview = "fix the flaky test in CI"
	require.NoError(t, s.Append(ctx, newer))

	rec, err := s.AttachOutcome(ctx, "", "fix the flaky test", SignalSuccess, "")
	require.NoError(t, err)
	require.Equal(t, "d2", rec.ResolvedDecisionID)
	require.Less(t, rec.MatchConfidence, 1.0)
}

func TestAttachOutcomeByPrefixNoMatch(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AttachOutcome(context.Background(), "", "nonexistent query", SignalSuccess, "")
	require.ErrorIs(t, err, ErrNoPrefixMatch)
}

func TestRecordEscalationDoesNotMutatePredecessor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, sampleDecision("d1", "sess-1", tier.Fast)))
	require.NoError(t, s.Append(ctx, sampleDecision("d2", "sess-1", tier.Medium)))

	require.NoError(t, s.RecordEscalation(ctx, "d1", "d2", ReasonExitCode))

	decs, err := s.QueryDecisions(ctx, DecisionFilter{})
	require.NoError(t, err)
	for _, d := range decs {
		if d.ID == "d1" {
			require.Equal(t, OutcomeOpen, d.Outcome, "escalation must not mutate the predecessor decision")
		}
	}
}

func TestStatsAggregatesByTier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, sampleDecision("d1", "sess-1", tier.Fast)))
	require.NoError(t, s.Append(ctx, sampleDecision("d2", "sess-1", tier.Fast)))
	_, err := s.AttachOutcome(ctx, "d1", "", SignalSuccess, "")
	require.NoError(t, err)

	stats, err := s.Stats(ctx, DefaultWindows[0])
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalDecisions)

	for _, ts := range stats.ByTier {
		if ts.Tier == tier.Fast {
			require.Equal(t, 2, ts.DecisionCount)
			require.Equal(t, 1, ts.SuccessCount)
			require.InDelta(t, 0.5, ts.SuccessRate, 1e-9)
		}
	}
}

func TestRebuildAggregatesMatchesLiveAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, sampleDecision("d1", "sess-1", tier.Fast)))
	require.NoError(t, s.Append(ctx, sampleDecision("d2", "sess-1", tier.Medium)))
	_, err := s.AttachOutcome(ctx, "d1", "", SignalSuccess, "")
	require.NoError(t, err)

	require.NoError(t, s.RebuildAggregates(ctx))
	sessions, err := s.QuerySessions(ctx, SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "sess-1", sessions[0].SessionID)
	require.Equal(t, 2, sessions[0].MessageCount)

	// Rebuilding again from the same raw events must be idempotent.
	require.NoError(t, s.RebuildAggregates(ctx))
	sessionsAgain, err := s.QuerySessions(ctx, SessionFilter{})
	require.NoError(t, err)
	require.Equal(t, sessions, sessionsAgain)
}

func TestExpireUnknownTimeouts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := sampleDecision("d1", "sess-1", tier.Fast)
	old.Ts = time.Now().UTC().Add(-25 * time.Hour)
	require.NoError(t, s.Append(ctx, old))

	n, err := s.ExpireUnknownTimeouts(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	decs, err := s.QueryDecisions(ctx, DecisionFilter{})
	require.NoError(t, err)
	require.Equal(t, OutcomeUnknownTimeout, decs[0].Outcome)
}

package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kernel-route/routekernel/internal/tier"
)

// Store is the interface the rest of the kernel depends on, matching the
// teacher's store.Store shape (a small set of verb-named methods over one
// persistent resource) but with telemetry's own vocabulary.
type Store interface {
	Append(ctx context.Context, d Decision) error
	AttachOutcome(ctx context.Context, decisionID, queryPrefix string, signal Signal, reason EscalationReason) (OutcomeSignalRecord, error)
	RecordEscalation(ctx context.Context, predecessorID, retryID string, reason EscalationReason) error
	QueryDecisions(ctx context.Context, f DecisionFilter) ([]Decision, error)
	QuerySessions(ctx context.Context, f SessionFilter) ([]SessionOutcome, error)
	Stats(ctx context.Context, w Window) (Stats, error)
	RebuildAggregates(ctx context.Context) error
	ExpireUnknownTimeouts(ctx context.Context, grace time.Duration) (int, error)
	Close() error
}

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no
// CGO), following the teacher's internal/store/sqlite.go connection-pool
// and WAL-mode setup. A single mutex serialises writers — SQLite only
// ever allows one writer at a time regardless, so this makes the
// "single-writer queue" of spec.md §5 explicit rather than relying on
// driver-level lock contention and retry. Readers go straight to the db
// handle: WAL mode lets them run concurrently with the writer without
// blocking (spec.md §5 "readers use versioned snapshots and never block
// writers").
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) a telemetry database at dsn and runs
// migrations.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("telemetry: sqlite pragmas: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Append durably persists a new Decision. It is synchronous: Router does
// not return to its caller until Append has committed (spec.md §4.2(a)).
func (s *SQLiteStore) Append(ctx context.Context, d Decision) error {
	altJSON, err := json.Marshal(d.Alternatives)
	if err != nil {
		return fmt.Errorf("telemetry: marshal alternatives: %w", err)
	}
	if d.Outcome == "" {
		d.Outcome = OutcomeOpen
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (
			id, ts, query_hash, query_preview, complexity, complexity_rationale,
			chosen_tier, dq_total, dq_validity, dq_specificity, dq_correctness,
			alternatives_json, cost_estimate, baseline_version, session_id,
			overridden, predecessor_decision_id, escalation_reason, outcome, feedback_ts
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Ts, d.QueryHash, d.QueryPreview, d.Complexity, d.ComplexityRationale,
		string(d.ChosenTier), d.DQ.Total, d.DQ.Validity, d.DQ.Specificity, d.DQ.Correctness,
		string(altJSON), d.CostEstimate, d.BaselineVersion, d.SessionID,
		d.Overridden, d.PredecessorDecisionID, string(d.EscalationReason), string(d.Outcome), nullTime(d.FeedbackTs),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// AttachOutcome resolves decisionID (direct) or queryPrefix (best-effort,
// most-recent-first) to a decision and idempotently records the signal.
// A second call for the same resolved decision id is a no-op that returns
// the original record (spec.md §4.2(b) "outcome attachment is idempotent
// per decision_id").
func (s *SQLiteStore) AttachOutcome(ctx context.Context, decisionID, queryPrefix string, signal Signal, reason EscalationReason) (OutcomeSignalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolvedID := decisionID
	confidence := 1.0
	if resolvedID == "" {
		id, conf, err := s.resolvePrefixLocked(ctx, queryPrefix)
		if err != nil {
			return OutcomeSignalRecord{}, err
		}
		resolvedID, confidence = id, conf
	} else {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM decisions WHERE id = ?`, resolvedID).Scan(&exists); err != nil {
			return OutcomeSignalRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if exists == 0 {
			return OutcomeSignalRecord{}, ErrDecisionNotFound
		}
	}

	if existing, ok, err := s.existingSignalLocked(ctx, resolvedID); err != nil {
		return OutcomeSignalRecord{}, err
	} else if ok {
		return existing, nil
	}

	rec := OutcomeSignalRecord{
		ID:                 uuid.NewString(),
		Ts:                 time.Now().UTC(),
		DecisionID:         decisionID,
		QueryPrefix:        queryPrefix,
		ResolvedDecisionID: resolvedID,
		MatchConfidence:    confidence,
		Signal:             signal,
		EscalationReason:   reason,
	}

	outcome := signalOutcome(signal)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return OutcomeSignalRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO outcome_signals (id, ts, decision_id, query_prefix, resolved_decision_id, match_confidence, signal, escalation_reason)
		VALUES (?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Ts, rec.DecisionID, rec.QueryPrefix, rec.ResolvedDecisionID, rec.MatchConfidence, string(rec.Signal), string(rec.EscalationReason),
	); err != nil {
		return OutcomeSignalRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE decisions SET outcome = ?, feedback_ts = ? WHERE id = ?`,
		string(outcome), rec.Ts, resolvedID); err != nil {
		return OutcomeSignalRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return OutcomeSignalRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec, nil
}

func signalOutcome(s Signal) Outcome {
	switch s {
	case SignalSuccess:
		return OutcomeSuccess
	case SignalFailure, SignalEscalation:
		return OutcomeFailure
	default:
		return OutcomeOpen
	}
}

func (s *SQLiteStore) existingSignalLocked(ctx context.Context, resolvedID string) (OutcomeSignalRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ts, decision_id, query_prefix, resolved_decision_id, match_confidence, signal, escalation_reason
		FROM outcome_signals WHERE resolved_decision_id = ?`, resolvedID)
	var rec OutcomeSignalRecord
	var signal, reason string
	if err := row.Scan(&rec.ID, &rec.Ts, &rec.DecisionID, &rec.QueryPrefix, &rec.ResolvedDecisionID, &rec.MatchConfidence, &signal, &reason); err != nil {
		if err == sql.ErrNoRows {
			return OutcomeSignalRecord{}, false, nil
		}
		return OutcomeSignalRecord{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	rec.Signal = Signal(signal)
	rec.EscalationReason = EscalationReason(reason)
	return rec, true, nil
}

// resolvePrefixLocked finds the most recent decision whose query_preview
// starts with prefix. Ambiguity (more than one candidate) is resolved
// most-recent-first and reported via a confidence below 1.
func (s *SQLiteStore) resolvePrefixLocked(ctx context.Context, prefix string) (string, float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM decisions
		WHERE query_preview LIKE ? ESCAPE '\'
		ORDER BY ts DESC LIMIT 5`, escapeLike(prefix)+"%")
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "", 0, ErrNoPrefixMatch
	}
	if len(ids) == 1 {
		return ids[0], 1.0, nil
	}
	// Ambiguous: most-recent-first wins, confidence scaled down by the
	// number of equally-plausible candidates.
	return ids[0], 1.0 / float64(len(ids)), nil
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}

// RecordEscalation appends an EscalationEvent linking predecessorID to
// retryID. It does not mutate the predecessor decision.
func (s *SQLiteStore) RecordEscalation(ctx context.Context, predecessorID, retryID string, reason EscalationReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_events (id, ts, predecessor_decision_id, retry_decision_id, reason)
		VALUES (?,?,?,?,?)`, uuid.NewString(), time.Now().UTC(), predecessorID, retryID, string(reason))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// QueryDecisions returns decisions matching f, most recent first.
func (s *SQLiteStore) QueryDecisions(ctx context.Context, f DecisionFilter) ([]Decision, error) {
	q := `SELECT id, ts, query_hash, query_preview, complexity, complexity_rationale,
		chosen_tier, dq_total, dq_validity, dq_specificity, dq_correctness,
		alternatives_json, cost_estimate, baseline_version, session_id,
		overridden, predecessor_decision_id, escalation_reason, outcome, feedback_ts
		FROM decisions WHERE 1=1`
	var args []interface{}
	if f.SessionID != "" {
		q += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.Tier != "" {
		q += " AND chosen_tier = ?"
		args = append(args, string(f.Tier))
	}
	if f.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, string(f.Outcome))
	}
	if !f.Since.IsZero() {
		q += " AND ts >= ?"
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		q += " AND ts <= ?"
		args = append(args, f.Until)
	}
	q += " ORDER BY ts DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		var altJSON, chosenTier, escReason, outcome string
		var feedbackTs sql.NullTime
		if err := rows.Scan(&d.ID, &d.Ts, &d.QueryHash, &d.QueryPreview, &d.Complexity, &d.ComplexityRationale,
			&chosenTier, &d.DQ.Total, &d.DQ.Validity, &d.DQ.Specificity, &d.DQ.Correctness,
			&altJSON, &d.CostEstimate, &d.BaselineVersion, &d.SessionID,
			&d.Overridden, &d.PredecessorDecisionID, &escReason, &outcome, &feedbackTs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		d.ChosenTier = tier.Tier(chosenTier)
		d.EscalationReason = EscalationReason(escReason)
		d.Outcome = Outcome(outcome)
		if feedbackTs.Valid {
			t := feedbackTs.Time
			d.FeedbackTs = &t
		}
		_ = json.Unmarshal([]byte(altJSON), &d.Alternatives)
		out = append(out, d)
	}
	return out, nil
}

// QuerySessions returns derived session outcomes matching f.
func (s *SQLiteStore) QuerySessions(ctx context.Context, f SessionFilter) ([]SessionOutcome, error) {
	q := `SELECT session_id, started_at, ended_at, message_count, tool_count, quality, complexity_avg, tier_efficiency, outcome
		FROM session_outcomes WHERE 1=1`
	var args []interface{}
	if !f.Since.IsZero() {
		q += " AND started_at >= ?"
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		q += " AND ended_at <= ?"
		args = append(args, f.Until)
	}
	q += " ORDER BY started_at DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []SessionOutcome
	for rows.Next() {
		var so SessionOutcome
		var outcome string
		if err := rows.Scan(&so.SessionID, &so.StartedAt, &so.EndedAt, &so.MessageCount, &so.ToolCount,
			&so.Quality, &so.ComplexityAvg, &so.TierEfficiency, &outcome); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		so.Outcome = SessionStatus(outcome)
		out = append(out, so)
	}
	return out, nil
}

// Stats computes a Stats snapshot for the given window by scanning
// decisions with ts >= now-window.Duration. This is a live, on-demand
// aggregate (not cached), matching the teacher's stats.Collector.Summary
// shape but computed from durable storage rather than an in-memory ring
// buffer.
func (s *SQLiteStore) Stats(ctx context.Context, w Window) (Stats, error) {
	since := time.Now().UTC().Add(-w.Duration)
	rows, err := s.db.QueryContext(ctx, `
		SELECT chosen_tier, outcome, dq_total, complexity, cost_estimate
		FROM decisions WHERE ts >= ?`, since)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	byTier := map[tier.Tier]*TierStats{}
	for _, t := range tier.Ordered {
		byTier[t] = &TierStats{Tier: t}
	}
	total := 0
	for rows.Next() {
		var chosenTier, outcome string
		var dqTotal, complexity, cost float64
		if err := rows.Scan(&chosenTier, &outcome, &dqTotal, &complexity, &cost); err != nil {
			return Stats{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		total++
		ts, ok := byTier[tier.Tier(chosenTier)]
		if !ok {
			continue
		}
		ts.DecisionCount++
		switch Outcome(outcome) {
		case OutcomeSuccess:
			ts.SuccessCount++
		case OutcomeFailure:
			ts.FailureCount++
		default:
			ts.UnknownCount++
		}
		ts.AvgDQTotal += dqTotal
		ts.AvgComplexity += complexity
		ts.AvgCostEstimate += cost
	}

	escRows, err := s.db.QueryContext(ctx, `
		SELECT d.chosen_tier, COUNT(1) FROM escalation_events e
		JOIN decisions d ON d.id = e.predecessor_decision_id
		WHERE e.ts >= ? GROUP BY d.chosen_tier`, since)
	if err == nil {
		defer escRows.Close()
		for escRows.Next() {
			var chosenTier string
			var count int
			if err := escRows.Scan(&chosenTier, &count); err == nil {
				if ts, ok := byTier[tier.Tier(chosenTier)]; ok {
					ts.EscalationCount = count
				}
			}
		}
	}

	out := Stats{Window: w, GeneratedAt: time.Now().UTC(), TotalDecisions: total}
	for _, t := range tier.Ordered {
		ts := byTier[t]
		if ts.DecisionCount > 0 {
			ts.AvgDQTotal /= float64(ts.DecisionCount)
			ts.AvgComplexity /= float64(ts.DecisionCount)
			ts.AvgCostEstimate /= float64(ts.DecisionCount)
			ts.SuccessRate = float64(ts.SuccessCount) / float64(ts.DecisionCount)
		}
		out.ByTier = append(out.ByTier, *ts)
	}
	return out, nil
}

// RebuildAggregates recomputes session_outcomes from the decisions table
// (whose outcome column records each attached signal), replacing the
// existing table contents. session_outcomes has no other writer, so
// rebuilding twice over the same decisions yields identical rows.
func (s *SQLiteStore) RebuildAggregates(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, MIN(ts), MAX(ts), COUNT(1), AVG(complexity),
			SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END),
			SUM(CASE WHEN outcome = 'failure' THEN 1 ELSE 0 END)
		FROM decisions
		WHERE session_id != ''
		GROUP BY session_id`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	type row struct {
		sessionID              string
		started, ended          time.Time
		count, success, failure int
		complexityAvg           float64
	}
	var recomputed []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.sessionID, &r.started, &r.ended, &r.count, &r.complexityAvg, &r.success, &r.failure); err != nil {
			rows.Close()
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		recomputed = append(recomputed, r)
	}
	rows.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_outcomes`); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, r := range recomputed {
		efficiency := 0.0
		if r.count > 0 {
			efficiency = float64(r.success) / float64(r.count)
		}
		status := SessionCompleted
		if r.failure > r.success {
			status = SessionInterrupted
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_outcomes (session_id, started_at, ended_at, message_count, tool_count, quality, complexity_avg, tier_efficiency, outcome)
			VALUES (?,?,?,?,0,0,?,?,?)`,
			r.sessionID, r.started, r.ended, r.count, r.complexityAvg, efficiency, string(status),
		); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return tx.Commit()
}

// ExpireUnknownTimeouts transitions open decisions older than grace to
// unknown_timeout (spec.md §4.6 "a decision without a signal after a
// configurable grace period... transitions to unknown_timeout
// automatically"). It returns the number of decisions transitioned.
func (s *SQLiteStore) ExpireUnknownTimeouts(ctx context.Context, grace time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-grace)
	res, err := s.db.ExecContext(ctx, `
		UPDATE decisions SET outcome = ?, feedback_ts = ?
		WHERE outcome = ? AND ts < ?`,
		string(OutcomeUnknownTimeout), time.Now().UTC(), string(OutcomeOpen), cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

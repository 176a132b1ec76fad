package telemetry

import (
	"context"
	"fmt"
)

// migrate creates the event-log and derived-aggregate tables. It follows
// the teacher's idempotent CREATE TABLE IF NOT EXISTS + CREATE INDEX IF
// NOT EXISTS migration style (internal/store/sqlite.go Migrate), so it is
// safe to call on every process start.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			ts DATETIME NOT NULL,
			query_hash TEXT NOT NULL,
			query_preview TEXT NOT NULL,
			complexity REAL NOT NULL,
			complexity_rationale TEXT NOT NULL DEFAULT '',
			chosen_tier TEXT NOT NULL,
			dq_total REAL NOT NULL,
			dq_validity REAL NOT NULL,
			dq_specificity REAL NOT NULL,
			dq_correctness REAL NOT NULL,
			alternatives_json TEXT NOT NULL DEFAULT '[]',
			cost_estimate REAL NOT NULL DEFAULT 0,
			baseline_version TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			overridden BOOLEAN NOT NULL DEFAULT 0,
			predecessor_decision_id TEXT NOT NULL DEFAULT '',
			escalation_reason TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT 'open',
			feedback_ts DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_tier ON decisions(chosen_tier)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decisions(outcome)`,

		`CREATE TABLE IF NOT EXISTS outcome_signals (
			id TEXT PRIMARY KEY,
			ts DATETIME NOT NULL,
			decision_id TEXT NOT NULL DEFAULT '',
			query_prefix TEXT NOT NULL DEFAULT '',
			resolved_decision_id TEXT NOT NULL,
			match_confidence REAL NOT NULL DEFAULT 1,
			signal TEXT NOT NULL,
			escalation_reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_outcome_signals_decision ON outcome_signals(resolved_decision_id)`,

		`CREATE TABLE IF NOT EXISTS escalation_events (
			id TEXT PRIMARY KEY,
			ts DATETIME NOT NULL,
			predecessor_decision_id TEXT NOT NULL,
			retry_decision_id TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_escalation_predecessor ON escalation_events(predecessor_decision_id)`,

		`CREATE TABLE IF NOT EXISTS session_outcomes (
			session_id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			tool_count INTEGER NOT NULL DEFAULT 0,
			quality REAL NOT NULL DEFAULT 0,
			complexity_avg REAL NOT NULL DEFAULT 0,
			tier_efficiency REAL NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL DEFAULT 'completed'
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("telemetry: migrate: %w", err)
		}
	}
	return nil
}

// Package update defines the ProposedUpdate value type shared between
// PatternDetector (producer) and AutoUpdateGate/BaselineStore (consumers),
// keeping those packages from needing to import each other.
package update

import "time"

// Type identifies the kind of change a ProposedUpdate recommends.
type Type string

const (
	ThresholdAdjustment Type = "threshold_adjustment"
	WeightAdjustment    Type = "weight_adjustment"
	CostRefresh         Type = "cost_refresh"
	GateAdjustment      Type = "gate_adjustment"
)

// Status tracks a ProposedUpdate through its lifecycle.
type Status string

const (
	Proposed   Status = "proposed"
	Applied    Status = "applied"
	RolledBack Status = "rolled_back"
	Rejected   Status = "rejected"
)

// ProposedUpdate is a structured recommendation to change one scalar field
// of Baselines, addressed by a dotted target path (e.g.
// "complexity_thresholds.fast.hi", "dq_weights.validity",
// "cost_per_mtok.fast.input", "feedback_gates.min_queries").
type ProposedUpdate struct {
	ID                    string    `json:"id"`
	Type                  Type      `json:"type"`
	TargetPath            string    `json:"target_path"`
	CurrentValue          float64   `json:"current_value"`
	ProposedValue         float64   `json:"proposed_value"`
	Rationale             string    `json:"rationale"`
	SampleSize            int       `json:"sample_size"`
	Confidence            float64   `json:"confidence"`
	Status                Status    `json:"status"`
	ParentBaselineVersion string    `json:"parent_baseline_version"`
	CreatedAt             time.Time `json:"created_at"`

	// RejectedReason is set when Status transitions to Rejected outside of
	// the normal gate-rejection path (e.g. a logic violation at apply time,
	// per spec.md §7 "Logic violations").
	RejectedReason string `json:"rejected_reason,omitempty"`
}

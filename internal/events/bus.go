// Package events is the kernel's in-process pub/sub bus (C2's "external
// consumers subscribe or poll, they never write kernel files directly",
// spec.md §9 REDESIGN FLAGS). It is adapted from the teacher's
// internal/events/bus.go, keeping the same non-blocking, drop-on-slow-
// subscriber publish semantics, with the event vocabulary replaced for
// routing/maintenance rather than LLM request/response events.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventDecisionRouted         EventType = "decision_routed"
	EventOutcomeRecorded        EventType = "outcome_recorded"
	EventFallbackUsed           EventType = "fallback_used"
	EventLoadFail               EventType = "load_fail"
	EventProposalGenerated      EventType = "proposal_generated"
	EventBaselineApplied        EventType = "baseline_applied"
	EventBaselineRolledBack     EventType = "baseline_rolled_back"
	EventRollbackTriggered      EventType = "rollback_triggered"
	EventMaintenanceRunStarted  EventType = "maintenance_run_started"
	EventMaintenanceCompleted   EventType = "maintenance_run_completed"
	EventMaintenanceFailed      EventType = "maintenance_run_failed"
	EventComponentHealthChanged EventType = "component_health_changed"
)

// Event is a single kernel event published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Routing fields (populated for decision_routed/fallback_used).
	DecisionID      string  `json:"decision_id,omitempty"`
	SessionID       string  `json:"session_id,omitempty"`
	Tier            string  `json:"tier,omitempty"`
	Complexity      float64 `json:"complexity,omitempty"`
	DQTotal         float64 `json:"dq_total,omitempty"`
	CostEstimate    float64 `json:"cost_estimate,omitempty"`
	BaselineVersion string  `json:"baseline_version,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	ErrorMsg        string  `json:"error_msg,omitempty"`

	// Baseline lifecycle fields.
	ProposalID string `json:"proposal_id,omitempty"`
	TargetPath string `json:"target_path,omitempty"`

	// Maintenance/workflow fields.
	RunID     string `json:"run_id,omitempty"`
	Component string `json:"component,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Bus is an in-memory pub/sub event bus for kernel events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
}

// Publish sends an event to all subscribers (non-blocking).
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
			// Drop event if subscriber is slow (back-pressure).
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

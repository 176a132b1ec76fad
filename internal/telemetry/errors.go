package telemetry

import "errors"

// ErrStoreUnavailable is returned when the underlying database cannot
// durably accept a write after retry (spec.md §7 "Transient store
// errors" / "Persistent store errors").
var ErrStoreUnavailable = errors.New("telemetry: store unavailable")

// ErrDecisionNotFound is returned by AttachOutcome and RecordEscalation
// when the referenced decision id does not exist.
var ErrDecisionNotFound = errors.New("telemetry: decision not found")

// ErrNoPrefixMatch is returned by AttachOutcome when a query_prefix signal
// matches no recent decision.
var ErrNoPrefixMatch = errors.New("telemetry: no decision matches query prefix")

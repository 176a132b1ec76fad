package kernelrouter

import "errors"

// ErrRoutingPersistFailed is returned when the Decision could not be
// durably appended to TelemetryStore. Router has no retry logic of its
// own (spec.md §4.5): the caller decides whether to proceed without a
// recorded decision.
var ErrRoutingPersistFailed = errors.New("kernelrouter: routing persist failed")

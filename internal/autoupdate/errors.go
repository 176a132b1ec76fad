package autoupdate

import "errors"

// ErrGatesUnmet is non-fatal: the proposal remains in status "proposed"
// and may be retried once more telemetry accumulates.
var ErrGatesUnmet = errors.New("autoupdate: gates unmet")

// ErrProposalNotFound is returned by Apply/Rollback for an unknown id.
var ErrProposalNotFound = errors.New("autoupdate: proposal not found")

// ErrAlreadyApplied is returned by Apply when the proposal has already
// transitioned out of "proposed".
var ErrAlreadyApplied = errors.New("autoupdate: proposal already resolved")

// ErrNoBackup is returned by Rollback when the proposal was never
// applied (or was previously rolled back) and so has no backup version.
var ErrNoBackup = errors.New("autoupdate: proposal has no backup to roll back to")

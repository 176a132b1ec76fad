package feedback

import "time"

// GracePeriod is how long an open Decision may go without a feedback
// signal before FeedbackIngest transitions it to unknown_timeout.
type GracePeriod struct {
	d time.Duration
}

// DefaultGracePeriod is spec.md §4.6's default of 24 hours.
var DefaultGracePeriod = GracePeriod{d: 24 * time.Hour}

// NewGracePeriod constructs a GracePeriod from a duration, used when an
// operator configures a non-default grace period.
func NewGracePeriod(d time.Duration) GracePeriod {
	if d <= 0 {
		return DefaultGracePeriod
	}
	return GracePeriod{d: d}
}

// Duration returns the underlying time.Duration.
func (g GracePeriod) Duration() time.Duration {
	if g.d <= 0 {
		return DefaultGracePeriod.d
	}
	return g.d
}

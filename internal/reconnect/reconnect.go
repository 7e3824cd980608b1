package reconnect

import "time"

// DefaultSchedule defines the backoff durations for successive reconnect attempts.
var DefaultSchedule = []time.Duration{
	time.Second, time.Second, time.Second,
	5 * time.Second, 5 * time.Second, 5 * time.Second,
	15 * time.Second, 15 * time.Second, 15 * time.Second,
}

// DefaultMaxDelay caps attempts beyond the end of the schedule.
const DefaultMaxDelay = 30 * time.Second

// Policy controls how connection attempts are retried.
type Policy struct {
	// Schedule lists the per-attempt delays; attempts past the end use MaxDelay.
	Schedule []time.Duration
	// MaxDelay bounds the delay once the schedule is exhausted.
	MaxDelay time.Duration
	// MaxAttempts stops automatic retries after this many consecutive
	// failures. Zero means retry forever.
	MaxAttempts int
	// Auto enables reconnecting after an established connection drops.
	// When false a dropped connection requires an explicit resume.
	Auto bool
}

// Default returns the retry-forever policy.
func Default() Policy {
	return Policy{Schedule: DefaultSchedule, MaxDelay: DefaultMaxDelay, Auto: true}
}

// Delay returns the backoff duration for the given attempt.
// The delay is non-decreasing across consecutive attempts.
func (p Policy) Delay(attempt int) time.Duration {
	sched := p.Schedule
	if len(sched) == 0 {
		sched = DefaultSchedule
	}
	max := p.MaxDelay
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt < len(sched) {
		return sched[attempt]
	}
	return max
}

// Exhausted reports whether the policy allows no further automatic attempts.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

package upstream

import "time"

// Reconnect delay bounds.
const (
	DefaultMinBackoff = 1 * time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// backoff produces the reconnect delay schedule: starts at min,
// doubles on each consecutive failure, never exceeds max, and resets
// to min after a successful open.
type backoff struct {
	min  time.Duration
	max  time.Duration
	next time.Duration
}

func newBackoff(min, max time.Duration) *backoff {
	if min <= 0 {
		min = DefaultMinBackoff
	}
	if max < min {
		max = DefaultMaxBackoff
	}
	return &backoff{min: min, max: max, next: min}
}

// Next returns the delay to wait before the next attempt and advances
// the schedule.
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// Reset returns the schedule to the minimum delay.
func (b *backoff) Reset() {
	b.next = b.min
}

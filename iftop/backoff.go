package iftop

import "time"

// backoff produces the restart delay ladder for a supervised subprocess:
// base, 2*base, 4*base, ... capped at max.
type backoff struct {
	base time.Duration
	max  time.Duration
	cur  time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &backoff{base: base, max: max, cur: base}
}

// Next returns the next restart delay and advances the ladder.
func (b *backoff) Next() time.Duration {
	d := b.cur
	if d > b.max {
		d = b.max
	}
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}

// Reset restarts the ladder at the base delay. Called after a generation that
// produced at least one valid sample.
func (b *backoff) Reset() {
	b.cur = b.base
}

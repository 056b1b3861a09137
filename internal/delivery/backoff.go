package delivery

import "time"

// Backoff computes the delay before a failed email becomes eligible again.
// Delays grow by powers of two from Base, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Next returns the delay after the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = 5 * time.Minute
	}
	delay := base << (attempt - 1)
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// DefaultBackoff returns the default retry policy: 5m, 10m, 20m, up to 60m.
func DefaultBackoff() Backoff {
	return Backoff{
		Base: 5 * time.Minute,
		Max:  60 * time.Minute,
	}
}

package supervisor

import "time"

// Backoff counts reconnect attempts and computes the delay before each one.
//
// Delay schedule with base=1s, cap=30s:
//   - attempt 1: 1s
//   - attempt 2: 2s
//   - attempt 3: 4s
//   - attempt 6 and later: 30s
type Backoff struct {
	base     time.Duration
	cap      time.Duration
	attempts int
}

// NewBackoff returns a counter at zero attempts.
func NewBackoff(base, cap time.Duration) Backoff {
	return Backoff{base: base, cap: cap}
}

// Delay returns min(base·2^(n-1), cap) for attempt n ≥ 1, and zero for n < 1.
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	// Past 2^32 the product overflows; the cap has long been reached by then.
	if n > 32 {
		return b.cap
	}
	d := b.base * time.Duration(uint64(1)<<uint(n-1))
	if d > b.cap || d < 0 {
		return b.cap
	}
	return d
}

// Next records one more attempt and returns its number and delay.
func (b *Backoff) Next() (int, time.Duration) {
	b.attempts++
	return b.attempts, b.Delay(b.attempts)
}

// Attempts returns the number of attempts since the last reset.
func (b Backoff) Attempts() int {
	return b.attempts
}

// Reset returns the counter to zero attempts.
func (b *Backoff) Reset() {
	b.attempts = 0
}

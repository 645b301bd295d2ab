package bridge

import (
	"sync"
	"time"
)

// bucket limits how many envelopes one peer may publish (thread-safe).
// All fields are integer-based (envelopes, ns) to avoid float overhead.
type bucket struct {
	mu       sync.Mutex
	rate     int64     // envelopes per second
	capacity int64     // max tokens (burst)
	tokens   int64     // current tokens
	last     time.Time // last refill time
}

// newBucket creates a bucket with the given rate and burst. If burst <= 0 it
// defaults to rate. A non-positive rate means unlimited and returns nil.
func newBucket(rate, burst int64, now time.Time) *bucket {
	if rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rate
	}
	return &bucket{rate: rate, capacity: burst, tokens: burst, last: now}
}

// allow consumes one token if available. A nil bucket allows everything.
func (b *bucket) allow(now time.Time) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.last)
	if elapsed > 0 {
		// last only advances on a whole-token refill so fractions accumulate.
		refill := (elapsed.Nanoseconds() * b.rate) / int64(time.Second)
		if refill > 0 {
			b.tokens = min(b.tokens+refill, b.capacity)
			b.last = now
		}
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

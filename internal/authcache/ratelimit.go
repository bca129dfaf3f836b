package authcache

import (
	"sync"
	"time"
)

// rateLimiter enforces a per-identity bound on validation attempts within a
// rolling window. State is in-memory only: a restart resets the window,
// which is acceptable for a single client instance per device.
type rateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	attempts map[string][]time.Time
}

func newRateLimiter(window time.Duration, max int) *rateLimiter {
	return &rateLimiter{
		window:   window,
		max:      max,
		attempts: make(map[string][]time.Time),
	}
}

// allow records an attempt for identity at time now and reports whether it
// is within the limit. The attempt that exceeds the limit is refused and
// not recorded, so the window drains naturally.
func (r *rateLimiter) allow(identity string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	kept := r.attempts[identity][:0]
	for _, t := range r.attempts[identity] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= r.max {
		r.attempts[identity] = kept
		return false
	}
	r.attempts[identity] = append(kept, now)
	return true
}

// reset clears the window for identity, e.g. after a successful online
// login.
func (r *rateLimiter) reset(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, identity)
}

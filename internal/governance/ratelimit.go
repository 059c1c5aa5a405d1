package governance

import (
	"sync"
	"time"
)

// RateLimiter enforces a sliding one-minute window over pipeline
// invocations. Check and increment are atomic: concurrent callers racing on
// the last slot cannot both pass.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   []time.Time
	now    func() time.Time
}

// NewRateLimiter builds a limiter allowing perMinute calls per sliding
// 60-second window.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limit:  perMinute,
		window: time.Minute,
		now:    time.Now,
	}
}

// Allow records one invocation attempt and reports whether it fits the
// window. A denied attempt is not recorded, so denials do not extend the
// penalty.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	cutoff := now.Add(-r.window)
	kept := r.hits[:0]
	for _, h := range r.hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	r.hits = kept
	if len(r.hits) >= r.limit {
		return false
	}
	r.hits = append(r.hits, now)
	return true
}

// Remaining reports how many invocations are left in the current window.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.window)
	n := 0
	for _, h := range r.hits {
		if h.After(cutoff) {
			n++
		}
	}
	if n >= r.limit {
		return 0
	}
	return r.limit - n
}

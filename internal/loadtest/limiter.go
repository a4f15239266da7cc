package loadtest

import (
	"sync"
	"time"
)

// RateLimiter spaces request start times so a global requests-per-second
// cap holds across all workers sharing it. A nil limiter never waits, which
// lets callers skip the cap without branching.
type RateLimiter struct {
	interval    time.Duration
	nextAllowed time.Time
	mu          sync.Mutex
}

// NewRateLimiter returns a limiter for the given cap, or nil when the cap
// is absent.
func NewRateLimiter(start time.Time, rps int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	interval := time.Duration(float64(time.Second) / float64(rps))
	if interval <= 0 {
		interval = time.Nanosecond
	}
	return &RateLimiter{interval: interval, nextAllowed: start}
}

// Reserve claims the next request slot and returns how long the caller
// must wait before issuing it. Safe for concurrent use.
func (l *RateLimiter) Reserve(now time.Time) time.Duration {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	wait := l.nextAllowed.Sub(now)
	if wait < 0 {
		wait = 0
	}
	if now.After(l.nextAllowed) {
		l.nextAllowed = now
	}
	l.nextAllowed = l.nextAllowed.Add(l.interval)
	return wait
}

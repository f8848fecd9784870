package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBurst     = 5
	limiterIdleTTL   = 10 * time.Minute
	limiterSweepEach = 256
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// keyedLimiter holds one token bucket per caller key. Buckets idle for
// longer than limiterIdleTTL are dropped so anonymous callers keyed by
// address do not accumulate forever.
type keyedLimiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*limiterEntry
	calls   int
}

// newKeyedLimiter returns nil when rps is not positive; a nil limiter allows everything.
func newKeyedLimiter(rps float64, burst int) *keyedLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &keyedLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

func (l *keyedLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	now := l.now()
	l.calls++
	if l.calls%limiterSweepEach == 0 {
		l.sweepLocked(now)
	}
	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.lim.AllowN(now, 1)
}

func (l *keyedLimiter) sweepLocked(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.entries, key)
		}
	}
}

func (l *keyedLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

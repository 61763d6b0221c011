package server

import (
	"sync"
	"time"
)

// callWindow is the sliding window every call limit is counted over.
const callWindow = time.Minute

type callKey struct {
	call   string
	client string
}

// CallRateLimiter caps how many times a client may issue a given printer
// call per minute. Calls without a configured limit are never throttled.
type CallRateLimiter struct {
	mu     sync.Mutex
	limits map[string]int
	recent map[callKey][]time.Time
	now    func() time.Time
}

// NewCallRateLimiter creates a limiter from per-call limits, e.g.
// {"printBytes": 60}. Non-positive limits are ignored.
func NewCallRateLimiter(limits map[string]int) *CallRateLimiter {
	l := &CallRateLimiter{
		limits: make(map[string]int, len(limits)),
		recent: make(map[callKey][]time.Time),
		now:    time.Now,
	}
	for call, limit := range limits {
		if limit > 0 {
			l.limits[call] = limit
		}
	}
	return l
}

// Limit returns the per-minute limit for call and whether one is set.
func (l *CallRateLimiter) Limit(call string) (int, bool) {
	limit, ok := l.limits[call]
	return limit, ok
}

// Allow records an attempt of call by client and reports whether it fits
// in the client's window for that call.
func (l *CallRateLimiter) Allow(call, client string) bool {
	limit, ok := l.limits[call]
	if !ok {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := callKey{call: call, client: client}
	now := l.now()
	cutoff := now.Add(-callWindow)

	kept := l.recent[key][:0]
	for _, t := range l.recent[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		l.recent[key] = kept
		return false
	}
	l.recent[key] = append(kept, now)
	return true
}

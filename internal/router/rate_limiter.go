package router

import (
	"sync"
	"time"
)

// DefaultEventsPerMinute is used when the limiter is built with a non-positive limit.
// It leaves room for typing-start/typing-stop pairs from an active chatter.
const DefaultEventsPerMinute = 600

const rateWindow = time.Minute

// RateLimiter implements per-connection fixed-window inbound rate limiting
// ARCHITECTURAL DISCOVERY: Per-key state tracking with periodic cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	clients map[string]*clientLimit
	now     func() time.Time
}

// clientLimit tracks the fixed window of a single connection
type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing eventsPerMinute events per key
func NewRateLimiter(eventsPerMinute int) *RateLimiter {
	if eventsPerMinute <= 0 {
		eventsPerMinute = DefaultEventsPerMinute
	}
	return &RateLimiter{
		limit:   eventsPerMinute,
		clients: make(map[string]*clientLimit),
		now:     time.Now,
	}
}

// Allow records one event for key and reports whether it is within the limit
// TECHNICAL DISCOVERY: Window resets a full minute after its first event
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	state, exists := rl.clients[key]
	if !exists || now.Sub(state.windowStart) >= rateWindow {
		rl.clients[key] = &clientLimit{count: 1, windowStart: now}
		return true
	}

	if state.count >= rl.limit {
		return false
	}

	state.count++
	return true
}

// Forget drops the state of key, typically when its connection closes.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, key)
}

// Cleanup removes entries idle for more than five windows and returns how many
// were removed (call periodically)
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, state := range rl.clients {
		if now.Sub(state.windowStart) > 5*rateWindow {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

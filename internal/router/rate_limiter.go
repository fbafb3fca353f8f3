package router

import (
	"sync"
	"time"
)

// RateLimiter implements per-participant fixed-window rate limiting
// ARCHITECTURAL DISCOVERY: Per-client state tracking with proper cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*ClientLimit
}

// ClientLimit tracks rate limiting for a single participant
type ClientLimit struct {
	eventCount  int
	windowStart time.Time
}

// NewRateLimiter allows limit events per window for each participant.
// Non-positive arguments fall back to 100 events per minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*ClientLimit),
	}
}

// Allow records one event for key and reports whether it is within the limit
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[key]
	if !exists {
		// FUNCTIONAL DISCOVERY: First event always allowed, initialize tracking
		rl.clients[key] = &ClientLimit{eventCount: 1, windowStart: now}
		return true
	}

	// TECHNICAL DISCOVERY: The window resets exactly once it has fully elapsed
	if now.Sub(limit.windowStart) >= rl.window {
		limit.eventCount = 1
		limit.windowStart = now
		return true
	}

	if limit.eventCount >= rl.limit {
		return false
	}

	limit.eventCount++
	return true
}

// Cleanup removes entries idle for five windows (call periodically)
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, key)
		}
	}
}

// Tracked returns the number of participants with limiter state
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

package session

import (
	"fmt"
	"sync"
	"time"
)

// Rate-limiter defaults: at most 10 context updates per rolling minute.
const (
	DefaultRateLimitWindow = time.Minute
	DefaultRateLimitMax    = 10
)

// RateLimiter is a sliding-window counter guarding outbound context-update
// traffic. Media frames are never rate-limited — dropping audio is worse than
// a burst of context updates — so only the control path consults it.
// Safe for concurrent use.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	last   time.Time
	count  int

	// now is the limiter's clock; overridable in tests.
	now func() time.Time
}

// NewRateLimiter creates a limiter allowing max requests per window.
// Non-positive arguments select the defaults.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	if max <= 0 {
		max = DefaultRateLimitMax
	}
	return &RateLimiter{
		window: window,
		max:    max,
		now:    time.Now,
	}
}

// Allow records one request and reports whether it is within the window
// budget. When the request is rejected, reason describes the limit for
// logging.
func (l *RateLimiter) Allow() (allowed bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	// The window slides from the previous request: a full window of silence
	// resets the budget.
	if now.Sub(l.last) > l.window {
		l.count = 0
	}
	l.last = now
	l.count++
	if l.count > l.max {
		return false, fmt.Sprintf("context update rate limit exceeded: max %d per %s", l.max, l.window)
	}
	return true, ""
}

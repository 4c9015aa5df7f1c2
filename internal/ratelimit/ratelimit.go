// Package ratelimit throttles inbound messages on a single realtime
// connection.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits at most limit events per fixed window. The window restarts
// on the first event after it has elapsed.
type Limiter struct {
	mu     sync.Mutex
	now    func() time.Time
	limit  int
	window time.Duration
	start  time.Time
	used   int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a Limiter admitting limit events per window. A non-positive
// limit admits nothing.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{limit: limit, window: window, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	l.start = l.now()
	return l
}

// Allow records one event and reports whether it fits in the current window.
// Rejected events still count.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	l.used++
	return l.used <= l.limit
}

func (l *Limiter) rollLocked() {
	if now := l.now(); now.Sub(l.start) > l.window {
		l.start = now
		l.used = 0
	}
}

package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// rateLimiter caps helmet posts per source address in fixed windows.
type rateLimiter struct {
	mu      sync.Mutex
	sources map[string]*ipWindow
	limit   int
	window  time.Duration
	now     func() time.Time
}

type ipWindow struct {
	start time.Time
	hits  int
}

// newRateLimiter allows limit requests per window per address. Expired
// windows are collected by the cleanup worker.
func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		sources: make(map[string]*ipWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// take counts one request from ip. When the request is over the limit it
// also returns how long until the window resets.
func (rl *rateLimiter) take(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w := rl.sources[ip]
	if w == nil || rl.expired(w, now) {
		rl.sources[ip] = &ipWindow{start: now, hits: 1}
		return rl.limit > 0, 0
	}
	w.hits++
	if w.hits <= rl.limit {
		return true, 0
	}
	return false, w.start.Add(rl.window).Sub(now)
}

func (rl *rateLimiter) expired(w *ipWindow, now time.Time) bool {
	return now.Sub(w.start) > rl.window
}

// cleanup forgets addresses whose window has passed and returns the count.
func (rl *rateLimiter) cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	n := 0
	for ip, w := range rl.sources {
		if rl.expired(w, now) {
			delete(rl.sources, ip)
			n++
		}
	}
	return n
}

// rateLimited answers 429 with a Retry-After header once the caller's
// address is over its limit.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ok, wait := s.limiter.take(getIP(r))
		if !ok {
			s.metrics.IncRejected("rate_limited")
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// getIP returns the first X-Forwarded-For hop when present, else the
// connection's remote host.
func getIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

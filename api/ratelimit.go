package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// fixedWindowLimiter counts requests per key within fixed, aligned
// windows. Exceeding the limit rejects the request before any session or
// storage work happens, so the cost of abuse stays bounded.
type fixedWindowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*windowBucket
}

type windowBucket struct {
	windowStart time.Time
	count       int
}

// Default budgets per guarded endpoint group.
const (
	loginLimit     = 10
	loginWindow    = time.Minute
	mfaLimit       = 10
	mfaWindow      = time.Minute
	analyticsLimit = 30
	analyticsStep  = time.Minute

	limiterSweepEvery = 10 * time.Minute
)

func newFixedWindowLimiter(limit int, window time.Duration) *fixedWindowLimiter {
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*windowBucket),
	}
}

// allow records one request for key and reports whether it fits in the
// current window. retryAfter is how long until the window resets.
func (rl *fixedWindowLimiter) allow(key string, now time.Time) (ok bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[key]
	if !exists || now.Sub(b.windowStart) >= rl.window {
		rl.buckets[key] = &windowBucket{windowStart: now, count: 1}
		return true, 0
	}
	if b.count >= rl.limit {
		return false, b.windowStart.Add(rl.window).Sub(now)
	}
	b.count++
	return true, 0
}

// sweep drops buckets whose window has long passed. Called periodically
// from the API's housekeeping goroutine.
func (rl *fixedWindowLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.windowStart) >= rl.window {
			delete(rl.buckets, key)
		}
	}
}

// rateLimit wraps a handler group with per-client-IP admission control.
func (a *API) rateLimit(rl *fixedWindowLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := a.extractClientIP(r)
			if ok, retryAfter := rl.allow(clientIP, time.Now()); !ok {
				a.audit.logFailure(AuditRateLimited, r, "window exceeded")
				writeRateLimited(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, codeRateLimited)
}

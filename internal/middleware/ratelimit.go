package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitMessage is the error text of a 429 response.
const RateLimitMessage = "too many requests, please try again later"

// RATE LIMITING:
// Each client IP gets `limit` requests per fixed window that opens with its
// first request. The window's allowance is a rate.Limiter with a zero refill
// rate and a burst of `limit`: it hands out exactly `limit` tokens and never
// refills. When the window ends the limiter is replaced.
//
// The IP is r.RemoteAddr, which chi's RealIP middleware has already
// replaced with the forwarded address when the server sits behind a proxy.

type visitor struct {
	limiter     *rate.Limiter
	windowStart time.Time
}

// RateLimiter keeps one window per client IP.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

// NewRateLimiter allows limit requests per window for each client.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		window:   window,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow consumes one request from key's current window, reporting whether
// the request may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.allow(key)
	return ok
}

// allow also returns how long until key's window resets.
func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok || now.Sub(v.windowStart) >= rl.window {
		if !ok {
			rl.prune(now)
		}
		v = &visitor{
			limiter:     rate.NewLimiter(0, rl.limit),
			windowStart: now,
		}
		rl.visitors[key] = v
	}
	return v.limiter.AllowN(now, 1), v.windowStart.Add(rl.window).Sub(now)
}

// prune drops clients whose window has ended; a fresh window behaves
// identically. Caller holds mu.
func (rl *RateLimiter) prune(now time.Time) {
	for k, v := range rl.visitors {
		if now.Sub(v.windowStart) >= rl.window {
			delete(rl.visitors, k)
		}
	}
}

// Len reports how many clients are being tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, reset := rl.allow(clientIP(r))
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter(reset))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"error":"` + RateLimitMessage + `"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit returns a middleware allowing limit requests per window per
// client. When disabled it passes every request through.
func RateLimit(limit int, window time.Duration, disabled bool) func(http.Handler) http.Handler {
	if disabled || limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return NewRateLimiter(limit, window).Middleware
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfter(reset time.Duration) string {
	secs := int(math.Ceil(reset.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

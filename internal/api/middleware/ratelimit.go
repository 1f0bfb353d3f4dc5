package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RateLimit defines a fixed-window limit for an endpoint.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// RateLimiter throttles credential submissions per client IP so the gateway
// cannot be used to hammer the backend's auth endpoints. Counters live in
// process memory.
type RateLimiter struct {
	limits map[string]RateLimit
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a limiter for the gateway's auth endpoints.
func NewRateLimiter(logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		limits: map[string]RateLimit{
			"POST /signin": {Requests: 10, Window: time.Minute},
			"POST /signup": {Requests: 5, Window: time.Hour},
		},
		logger:  logger.With().Str("component", "ratelimit").Logger(),
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// ClientIP is the socket peer of the request. Forwarding headers are only
// honoured when the router runs chi's RealIP, which rewrites RemoteAddr.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// CheckAndIncrement counts a request against key.
// Returns (allowed, remaining, resetAt).
func (rl *RateLimiter) CheckAndIncrement(key string, limit RateLimit) (bool, int, time.Time) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !now.Before(rl.nextSweep) {
		rl.sweepLocked(now)
	}

	b, ok := rl.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(limit.Window)}
		rl.buckets[key] = b
	}
	b.count++

	remaining := limit.Requests - b.count
	if remaining < 0 {
		remaining = 0
	}
	return b.count <= limit.Requests, remaining, b.resetAt
}

// sweepLocked drops expired buckets. It runs at most once per shortest window.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	for key, b := range rl.buckets {
		if !now.Before(b.resetAt) {
			delete(rl.buckets, key)
		}
	}

	interval := time.Duration(0)
	for _, l := range rl.limits {
		if interval == 0 || l.Window < interval {
			interval = l.Window
		}
	}
	rl.nextSweep = now.Add(interval)
}

func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + " " + r.URL.Path
		limit, ok := rl.limits[endpoint]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ip := ClientIP(r)
		allowed, remaining, resetAt := rl.CheckAndIncrement(endpoint+":"+ip, limit)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retry := int(resetAt.Sub(rl.now()).Seconds())
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))

			rl.logger.Warn().
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", endpoint).
				Msg("rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

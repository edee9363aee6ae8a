// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RateLimiter is a process-local token-bucket limiter built on
// golang.org/x/time/rate. Buckets are keyed per actor within a workspace
// (falling back to the client IP for anonymous calls), so one noisy member
// cannot starve the rest of a workspace. Idle buckets are evicted
// opportunistically. Idempotent replays bypass the limiter.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc maps a request to a bucket identity. Requests returning the same
// key share one token bucket.
type KeyFunc func(*gin.Context) string

// KeyByActorOrIP keys authenticated calls by workspace and actor and
// anonymous calls by client IP.
func KeyByActorOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if uid := ActorID(c); uid != "" {
			return "actor:" + WorkspaceID(c) + "/" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

// visitor is one bucket plus the last time it was used.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one bucket per key. It is safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit // tokens added per second
	burst int        // bucket capacity
	keyFn KeyFunc
	ttl   time.Duration // idle time after which a bucket may be evicted

	mu       sync.Mutex
	visitors map[string]*visitor
	lookups  uint64 // lookups since the last sweep
}

// NewRateLimiter returns a limiter refilling rps tokens per second with the
// given burst.
//
// Defaults:
//   - burst <= 0 becomes 1.
//   - A nil keyFn becomes KeyByActorOrIP.
//   - Buckets idle for 10 minutes are evicted on the next sweep.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByActorOrIP()
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		ttl:      10 * time.Minute,
		visitors: make(map[string]*visitor),
	}
}

// limiter returns the bucket for key. Every 5000 lookups idle buckets are
// swept first, so a stale bucket is evicted even when it is the one asked for.
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler returns the limiting middleware.
//
// Behavior:
//   - Replays flagged by IdempotencyValidator pass without taking a token.
//   - Otherwise one token is taken from the request's bucket.
//   - With the bucket empty the request is aborted with 429, a Retry-After
//     header derived from the refill rate, and the standard error envelope
//     with code "too_many_requests".
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		if rl.limiter(rl.keyFn(c), time.Now()).Allow() {
			c.Next()
			return
		}

		c.Header("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}

// retryAfterSeconds is the time for one token to refill, rounded up and at
// least one second.
func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.rps <= 0 || rl.rps >= 1 {
		return 1
	}
	return int(1/float64(rl.rps) + 0.999)
}

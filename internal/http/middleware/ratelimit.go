// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory, token-bucket rate limiter with per-key
// buckets and opportunistic garbage collection, using golang.org/x/time/rate.
// It is process-local: for horizontally scaled deployments a distributed
// limiter should enforce the global limit instead.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the identity used to key a rate-limit bucket. The returned
// string must be stable for the duration of a request.
type keyFunc func(*gin.Context) string

// KeyBySubjectOrIP prefers the acting subject recorded by SetSubject and
// falls back to the client IP. Keys are prefixed so the two namespaces never
// collide.
func KeyBySubjectOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get(subjectIDKey); ok {
			if s, ok := v.(string); ok && s != "" {
				return "subject:" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// visitor holds one bucket and the last time it was used, for idle eviction.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Buckets are created on
// demand; idle buckets are evicted after a TTL during lookups to bound
// memory. Safe for concurrent use.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    keyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter constructs a limiter replenishing rps tokens per second with
// the given burst (values <= 0 are coerced to 1), keyed by keyFn.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

// getVisitor returns the limiter for key, creating it if absent. Idle entries
// are evicted opportunistically after ~5000 lookups; the sweep runs before
// the requested visitor is touched so a stale bucket being fetched can still
// be replaced.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, vv := range rl.visitors {
			if now.Sub(vv.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		lim := v.limiter
		rl.mu.Unlock()
		return lim
	}

	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	rl.mu.Unlock()
	return lim
}

// Handler returns a Gin middleware enforcing the per-key limit. Rejected
// requests get a 429 with a compact JSON body and a Retry-After header.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.keyFn(c)
		lim := rl.getVisitor(key)

		if lim.Allow() {
			c.Next()
			return
		}

		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}

package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// KeyFunc selects the bucket a request is charged to.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP charges the user id set by upstream middleware, then the
// X-User-ID header, then the client IP. Keys are namespaced ("user:", "ip:").
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		if s := strings.TrimSpace(c.GetHeader("X-User-ID")); s != "" {
			return "user:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

// RateLimiter is a process-local, per-key token bucket. Buckets idle for
// longer than the TTL are evicted by the cache janitor.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	keyFn   KeyFunc
	mu      sync.Mutex
	buckets *cache.Cache
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst (coerced to at least 1). A zero ttl uses ten minutes.
func NewRateLimiter(rps float64, burst int, ttl time.Duration, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if keyFn == nil {
		keyFn = KeyByUserOrIP()
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: cache.New(ttl, ttl/2),
	}
}

// bucket returns the limiter for key, creating it on first use. Every lookup
// refreshes the entry's expiry.
func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if v, ok := rl.buckets.Get(key); ok {
		lim := v.(*rate.Limiter)
		rl.buckets.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets.SetDefault(key, lim)
	return lim
}

// IsRateBypass reports whether IdempotencyValidator found a stored receipt for
// this request. Replays are answered from the receipt and cost no tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit and answers 429 with Retry-After when a bucket
// is empty.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || rl.bucket(rl.keyFn(c)).Allow() {
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

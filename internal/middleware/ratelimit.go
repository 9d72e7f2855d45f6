package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/stemsi/exstem-engine/internal/response"
)

// RateLimiter is a token bucket per student (or per client IP for
// unauthenticated callers).
type RateLimiter struct {
	mu       sync.Mutex
	buckets  *expirable.LRU[string, *bucket]
	rate     int           // Tokens per interval
	interval time.Duration // Refill interval
	now      func() time.Time
}

type bucket struct {
	tokens   int
	refillAt time.Time
}

// NewRateLimiter creates a RateLimiter (e.g., 60 autosaves per minute).
// Idle buckets are evicted after a few intervals.
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	if rate < 1 {
		rate = 1
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &RateLimiter{
		buckets:  expirable.NewLRU[string, *bucket](8192, nil, 3*interval),
		rate:     rate,
		interval: interval,
		now:      time.Now,
	}
}

// Allow takes one token for key and reports whether one was available.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: rl.rate, refillAt: now.Add(rl.interval)}
		rl.buckets.Add(key, b)
	}

	if !now.Before(b.refillAt) {
		periods := int(now.Sub(b.refillAt)/rl.interval) + 1
		b.tokens += periods * rl.rate
		if b.tokens > rl.rate {
			b.tokens = rl.rate
		}
		b.refillAt = b.refillAt.Add(time.Duration(periods) * rl.interval)
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Middleware returns a Gin middleware that rate-limits requests by student,
// falling back to client IP. Mount it after the JWT middleware.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if claims := GetClaims(c); claims != nil {
			key = "student:" + strconv.Itoa(claims.UserID)
		}

		if !rl.Allow(key) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

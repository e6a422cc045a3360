package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/AnTengye/contractplaybook/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// RateLimiter counts requests per client in fixed windows
type RateLimiter struct {
	mu        sync.Mutex
	counts    map[string]int
	lastReset time.Time
	rate      int           // requests per window
	window    time.Duration // time window
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter. A rate of 0 or less disables
// limiting.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counts:    make(map[string]int),
		lastReset: time.Now(),
		rate:      rate,
		window:    window,
		now:       time.Now,
	}
}

// Allow records a request from key. When the key is over its budget it
// returns false and how long until the window resets.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	if l.rate <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastReset) >= l.window {
		l.counts = make(map[string]int)
		l.lastReset = now
	}

	if l.counts[key] >= l.rate {
		return false, l.lastReset.Add(l.window).Sub(now)
	}
	l.counts[key]++
	return true, 0
}

// RateLimit middleware limits requests per client IP
func RateLimit(rate int, window time.Duration) gin.HandlerFunc {
	return RateLimitWith(NewRateLimiter(rate, window))
}

// RateLimitWith is RateLimit with a caller-owned limiter
func RateLimitWith(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		ok, retryAfter := limiter.Allow(clientIP)
		if !ok {
			logger.Warn(c.Request.Context(), "rate limit exceeded", "client_ip", clientIP)

			seconds := int(math.Ceil(retryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(max(seconds, 1)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}

		c.Next()
	}
}

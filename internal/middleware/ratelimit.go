package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/quillnotes/quill/internal/metrics"
	"github.com/quillnotes/quill/pkg/models"
)

// RateLimiter manages rate limiting for API requests
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps int, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

// getLimiter returns a rate limiter for a specific key
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	limiter, exists = rl.limiters[key]
	if exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = limiter

	return limiter
}

// RateLimit middleware limits requests per user or IP
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Try to get user ID first
		userID, exists := c.Get(AuthContextKey)
		var key string

		if exists {
			key = fmt.Sprintf("user:%s", userID)
		} else {
			// Fall back to IP address
			key = fmt.Sprintf("ip:%s", c.ClientIP())
		}

		limiter := rl.getLimiter(key)
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// WindowLimiter counts requests in a shared store so limits hold across
// API instances
type WindowLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

// SharedRateLimit middleware enforces a per-user request budget backed by
// a WindowLimiter. Store failures let the request through: the in-process
// limiter and the quota itself still apply.
func SharedRateLimit(limiter WindowLimiter, limit int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := GetUserID(c)
		if !exists {
			c.Next()
			return
		}

		allowed, err := limiter.CheckRateLimit(c.Request.Context(), "user:"+userID, limit, window)
		if err != nil {
			c.Next()
			return
		}

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// UsageChecker reports whether a user still has monthly allowance left
type UsageChecker interface {
	CanUse(ctx context.Context, userID string) (bool, error)
}

// QuotaGate middleware rejects AI requests from users whose monthly
// allowance is exhausted. It is a coarse pre-check: the authoritative
// enforcement happens when usage is committed after the completion.
func QuotaGate(checker UsageChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := GetUserID(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		allowed, err := checker.CanUse(c.Request.Context(), userID)
		if err != nil {
			apiErr := models.AsAPIError(err)
			c.JSON(apiErr.HTTPStatus(), gin.H{"error": apiErr.Message, "code": apiErr.Kind})
			c.Abort()
			return
		}

		if !allowed {
			metrics.RecordQuotaDenial()
			apiErr := models.QuotaExceededError()
			c.JSON(apiErr.HTTPStatus(), gin.H{"error": apiErr.Message, "code": apiErr.Kind})
			c.Abort()
			return
		}

		c.Next()
	}
}

package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/jobforge/jobforge/internal/config"
)

// RateLimiter throttles the admin surface per client IP using the same
// Redis instance the Broker runs against, a fixed-window counter keyed
// separately from any broker set.
func RateLimiter(rdb *redis.Client, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.RateLimit.Enabled {
			c.Next()
			return
		}

		ctx := context.Background()
		clientIP := c.ClientIP()
		key := fmt.Sprintf("jobforge:ratelimit:%s", clientIP)

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			rdb.Expire(ctx, key, cfg.RateLimit.Window)
		}

		limit := cfg.RateLimit.RequestsPerSecond
		if count > int64(limit) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}

		c.Writer.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		c.Writer.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", limit-int(count)))
		c.Writer.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(cfg.RateLimit.Window).Unix()))

		c.Next()
	}
}

package server

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/payrecon/internal/observability/logger"
	"go.uber.org/zap"
)

// WebhookRateLimit throttles notification deliveries per webhook key and client IP.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.Param("key"))
		ctx := c.Request.Context()

		if !s.webhookLimiter.Enabled() {
			c.Next()
			return
		}

		result, err := s.webhookLimiter.Allow(ctx, key, c.ClientIP())
		if err != nil {
			obslogger.FromContext(ctx).Warn("webhook rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.ResetTime.IsZero() {
			c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
		}

		if !result.Allowed {
			c.Header("Retry-After", retryAfterSeconds(result.RetryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) string {
	if d <= 0 {
		return "1"
	}
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}

package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paysettle/internal/observability/logger"
	"go.uber.org/zap"
)

func (s *Server) CheckoutRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.checkoutLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		res := s.checkoutLimiter.Allow(ctx, c.ClientIP())
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if res.Allowed {
			c.Next()
			return
		}

		retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		logger.FromContext(ctx).Warn("checkout rate limit exceeded",
			zap.String("endpoint", c.FullPath()),
			zap.Int("retry_after_s", retryAfter),
		)
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		AbortWithError(c, ErrRateLimited)
	}
}

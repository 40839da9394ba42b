package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tally/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitReasonClientRate = "client-rate"

// UploadRateLimit throttles uploads per client IP. The limiter fails open,
// so a missing or unreachable redis never blocks an upload.
func (s *Server) UploadRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.uploadLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)
		res := s.uploadLimiter.Allow(ctx, c.ClientIP())

		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}

		if !res.Allowed {
			logger.FromContext(ctx).Warn("upload rate limit exceeded",
				zap.String("client_ip", c.ClientIP()),
				zap.String("endpoint", endpoint),
			)
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonClientRate)
			}
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonClientRate)
			AbortWithError(c, ErrRateLimited)
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		}
		c.Next()
	}
}

// retryAfterSeconds rounds up for the Retry-After header; a sub-second wait
// still reads as one second.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}

package middleware

import (
	"net/http"
	"strconv"

	"github.com/osvaldoandrade/reportq/internal/metrics"
	"github.com/osvaldoandrade/reportq/internal/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimitSubmissions throttles operation per submitter. It must run after
// AuthMiddleware; requests without a submitter pass through.
func RateLimitSubmissions(lim ratelimit.Limiter, operation string, bucket ratelimit.Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		submitter := SubmitterFrom(c)
		if lim == nil || !bucket.Enabled() || submitter.ID == "" {
			c.Next()
			return
		}

		dec, err := lim.Allow(c.Request.Context(), operation, submitter.ID, bucket)
		if err != nil {
			// Fail open so a Redis hiccup does not block submissions.
			LoggerFrom(c).Warn("rate limit check failed", "op", operation, "err", err)
			c.Next()
			return
		}
		if dec.Allowed {
			c.Next()
			return
		}

		retryAfterSeconds := max(int(dec.RetryAfter.Seconds()), 1)
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(operation).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate limit exceeded",
			"operation":         operation,
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}

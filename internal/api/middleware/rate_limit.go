package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"trekkr/internal/logger"
	"trekkr/internal/metrics"
	"trekkr/internal/repository"
)

// RateLimit allows at most limit requests per window for each caller on the
// given route. Callers are identified by user id, or by client IP when the
// route is not authenticated.
//
// A counter error lets the request through: losing the limiter must not
// take ingestion down with it.
func RateLimit(counter repository.WindowCounter, route string, limit int, window time.Duration, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "route:" + route + ":"
		if userID := GetUserID(c); userID != 0 {
			key += "user:" + strconv.FormatInt(userID, 10)
		} else {
			key += "ip:" + c.ClientIP()
		}

		count, ttl, err := counter.Incr(c.Request.Context(), key, window)
		if err != nil {
			log.Warn("rate limiter unavailable, allowing request", "route", route, "error", err)
			c.Next()
			return
		}

		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(limit) {
			retryAfter := int(math.Ceil(ttl.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			metrics.RateLimitedTotal.WithLabelValues(route).Inc()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "too many requests, retry after " + strconv.Itoa(retryAfter) + "s",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

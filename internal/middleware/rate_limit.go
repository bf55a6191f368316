package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/services"
	"github.com/travelhub/reservation-core/internal/utils"
)

// HoldRateLimiter records a hold attempt and rejects it when over the limit
type HoldRateLimiter interface {
	CheckHoldRateLimit(ctx context.Context, holderID, ip string) error
}

// HoldRateLimit throttles booking starts per holder and per client IP.
// Must run after AuthMiddleware. Counter failures are logged and let through.
func HoldRateLimit(limiter HoldRateLimiter, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var holderID string
		if userCtx, ok := GetUserContext(c); ok {
			holderID = userCtx.HolderID
		}
		clientIP := utils.GetRealIP(c)

		err := limiter.CheckHoldRateLimit(c.Request.Context(), holderID, clientIP)
		if err == nil {
			c.Next()
			return
		}

		var rateLimitErr *services.RateLimitError
		if !errors.As(err, &rateLimitErr) {
			logger.WithError(err).Warn("Rate limit check failed, allowing request")
			c.Next()
			return
		}

		logger.WithFields(logrus.Fields{
			"holder_id":   holderID,
			"ip":          clientIP,
			"limit_type":  rateLimitErr.Type,
			"retry_after": rateLimitErr.RetryAfter,
		}).Warn("Hold rate limit exceeded")

		retryAfter := int(time.Until(rateLimitErr.RetryAfter).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate_limit_exceeded",
			"message":     rateLimitErr.Message,
			"retry_after": rateLimitErr.RetryAfter,
			"type":        rateLimitErr.Type,
		})
	}
}

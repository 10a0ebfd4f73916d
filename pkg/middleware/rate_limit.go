package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/ratelimit"
)

// RateLimit throttles an endpoint per client under the given rule. Anonymous
// traffic is keyed by IP, authenticated traffic by user ID. The limiter is
// nil-safe; without Redis every request passes.
func RateLimit(limiter *ratelimit.Limiter, name string, rule ratelimit.Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.ClientIP()
		if userID, err := GetUserID(c); err == nil {
			identity = userID.String()
		}

		result, err := limiter.Allow(c.Request.Context(), fmt.Sprintf("%s:%s", name, identity), rule)
		if err == nil && !result.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(result.RetryAfter.Seconds())))
			appErr := common.NewRateLimitError("too many requests, slow down")
			common.AppErrorResponse(c, appErr)
			c.Abort()
			return
		}

		c.Next()
	}
}

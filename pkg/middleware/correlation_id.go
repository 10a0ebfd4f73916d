package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aeroride/carpool/pkg/logger"
)

const (
	// CorrelationIDHeader carries the correlation ID between services.
	CorrelationIDHeader = "X-Request-ID"
	// CorrelationIDKey is the gin context key handlers read it from.
	CorrelationIDKey = "correlation_id"
)

// CorrelationID tags every request with a correlation ID. A well-formed ID
// supplied by the caller is kept so client retries and webhook redeliveries
// line up in the logs; anything else is replaced with a fresh UUID. The ID
// is echoed on the response and threaded through the request context for
// the logger.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(CorrelationIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}

		c.Set(CorrelationIDKey, id)
		c.Request = c.Request.WithContext(logger.ContextWithCorrelationID(c.Request.Context(), id))
		c.Writer.Header().Set(CorrelationIDHeader, id)

		c.Next()
	}
}

// GetCorrelationID returns the request's correlation ID, falling back to
// the request context for code running outside the gin chain.
func GetCorrelationID(c *gin.Context) string {
	if v, ok := c.Get(CorrelationIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return logger.CorrelationIDFromContext(c.Request.Context())
}

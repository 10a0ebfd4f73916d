package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/logger"
)

// RequestTimeout bounds the wall time of a request. The deadline is applied
// to the request context so repositories and outbound calls inherit it, and
// a handler that has not produced a response by then is answered with 504.
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		finished := make(chan struct{})
		panicked := make(chan any, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
					return
				}
				close(finished)
			}()
			c.Next()
		}()

		select {
		case p := <-panicked:
			// Re-raise on the goroutine the recovery middleware watches.
			panic(p)
		case <-finished:
		case <-ctx.Done():
			// A cancelled parent context means the client went away; only a
			// deadline gets a response.
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return
			}
			// A handler that already started streaming keeps its response.
			if c.Writer.Written() {
				return
			}
			c.Abort()
			common.ErrorResponse(c, http.StatusGatewayTimeout, "request timed out")

			logger.WarnContext(ctx, "request timed out",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Duration("timeout", timeout),
			)
		}
	}
}

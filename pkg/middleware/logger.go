package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/pkg/logger"
	"github.com/aeroride/carpool/pkg/security"
)

// bodyCapture tees the response so the access log can carry what was sent.
type bodyCapture struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyCapture) Write(p []byte) (int, error) {
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}

func (w *bodyCapture) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Bodies on these routes carry credentials, tokens or raw PSP payloads and
// stay out of the logs entirely.
var redactedBodyPrefixes = []string{
	"/api/v1/auth",
	"/api/v1/stripe/webhook",
}

func bodiesRedacted(path string) bool {
	for _, prefix := range redactedBodyPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return strings.Contains(path, "password")
}

// RequestLogger writes one structured access-log line per request, carrying
// the scrubbed and truncated bodies except on credential and webhook routes.
func RequestLogger(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		redacted := bodiesRedacted(path)

		var requestBody string
		if !redacted {
			requestBody = captureRequestBody(c)
		}

		capture := &bodyCapture{ResponseWriter: c.Writer}
		c.Writer = capture

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		fields := []zap.Field{
			zap.String("service", serviceName),
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", latency),
			zap.Int("response_size", capture.buf.Len()),
		}

		if requestBody != "" {
			fields = append(fields, zap.String("request_body", requestBody))
		}
		if !redacted {
			if responseBody := scrubPayload(capture.buf.Bytes()); responseBody != "" {
				fields = append(fields, zap.String("response_body", responseBody))
			}
		}

		log := logger.WithContext(c.Request.Context())
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
			log.Error("request completed with errors", fields...)
			return
		}
		log.Info("request completed", fields...)
	}
}

// captureRequestBody drains and restores the body so binding still works.
func captureRequestBody(c *gin.Context) string {
	if c.Request == nil || c.Request.Body == nil {
		return ""
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	return scrubPayload(raw)
}

// scrubPayload flattens a body into a single log-safe line.
func scrubPayload(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}

	s := security.StripHTMLTags(string(payload))
	s = security.SanitizeString(s)
	s = strings.Join(strings.Fields(s), " ")

	const maxPayloadLength = 512
	if len(s) > maxPayloadLength {
		s = s[:maxPayloadLength] + "...(truncated)"
	}
	return s
}

package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/logger"
	redisclient "github.com/aeroride/carpool/pkg/redis"
)

const (
	// IdempotencyKeyHeader lets a client retry a mutation safely.
	IdempotencyKeyHeader = "Idempotency-Key"

	maxIdempotencyKeyLen = 255

	// Replays are honoured for a day; in-flight markers last long enough to
	// cover the slowest payment round trip.
	idempotencyTTL     = 24 * time.Hour
	idempotencyLockTTL = 30 * time.Second
	idempotencyPrefix  = "idempotency:"
)

// storedResponse is the reply cached under an idempotency key.
type storedResponse struct {
	StatusCode  int             `json:"status_code"`
	ContentType string          `json:"content_type"`
	Body        json.RawMessage `json:"body"`
	RequestHash string          `json:"request_hash"`
}

// replayRecorder tees the response so a successful mutation can be stored.
type replayRecorder struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *replayRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *replayRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Idempotency replays the stored response when a client retries a mutation
// with the same Idempotency-Key. A key whose first request is still running
// is rejected rather than executed twice, and a key reused with a different
// payload is refused. Keys are scoped per user, so bookings and payments
// cannot be double-submitted by an impatient client.
func Idempotency(redis redisclient.ClientInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			c.Next()
			return
		}

		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			common.ErrorResponse(c, http.StatusBadRequest, "Idempotency-Key is too long")
			c.Abort()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "failed to read request body")
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		requestHash := fingerprintRequest(c.Request.Method, c.FullPath(), body)

		userID := ""
		if uid, err := GetUserID(c); err == nil {
			userID = uid.String()
		}
		redisKey := fmt.Sprintf("%s%s:%s", idempotencyPrefix, userID, key)

		if replayStored(c, redis, redisKey, requestHash) {
			return
		}

		// Mark the key in flight so a concurrent retry cannot run the same
		// mutation while the first attempt is still executing.
		lockKey := redisKey + ":inflight"
		acquired, err := redis.SetNX(c.Request.Context(), lockKey, requestHash, idempotencyLockTTL)
		if err == nil && !acquired {
			common.ErrorResponse(c, http.StatusConflict,
				"a request with this Idempotency-Key is already in progress")
			c.Abort()
			return
		}

		recorder := &replayRecorder{ResponseWriter: c.Writer, status: http.StatusOK}
		c.Writer = recorder

		c.Next()

		// Only completed mutations are replayable. Errors are not stored so
		// the client may retry them.
		if recorder.status >= 200 && recorder.status < 300 {
			entry := storedResponse{
				StatusCode:  recorder.status,
				ContentType: c.Writer.Header().Get("Content-Type"),
				Body:        recorder.body.Bytes(),
				RequestHash: requestHash,
			}
			if data, err := json.Marshal(entry); err == nil {
				if err := redis.SetWithExpiration(c.Request.Context(), redisKey, data, idempotencyTTL); err != nil {
					logger.WarnContext(c.Request.Context(), "failed to store idempotent response",
						zap.String("key", key),
						zap.Error(err),
					)
				}
			}
		}

		if err := redis.Delete(c.Request.Context(), lockKey); err != nil {
			logger.WarnContext(c.Request.Context(), "failed to release idempotency marker",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

// replayStored serves the cached response for the key, if any. It reports
// true when the request was answered (replayed or refused) and must not
// reach the handler.
func replayStored(c *gin.Context, redis redisclient.ClientInterface, redisKey, requestHash string) bool {
	cached, err := redis.GetString(c.Request.Context(), redisKey)
	if err != nil || cached == "" {
		return false
	}

	var entry storedResponse
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		return false
	}

	if entry.RequestHash != requestHash {
		common.ErrorResponse(c, http.StatusUnprocessableEntity,
			"Idempotency-Key has already been used with a different request")
		c.Abort()
		return true
	}

	contentType := entry.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	c.Header("Idempotent-Replayed", "true")
	c.Data(entry.StatusCode, contentType, entry.Body)
	c.Abort()
	return true
}

// fingerprintRequest hashes method, route and body so one key cannot be
// reused for a different mutation.
func fingerprintRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

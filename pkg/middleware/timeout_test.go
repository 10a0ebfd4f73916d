package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockPastDeadline waits for the request deadline and then gives the
// middleware a moment to write its response before the handler returns.
func blockPastDeadline(c *gin.Context) {
	<-c.Request.Context().Done()
	time.Sleep(20 * time.Millisecond)
}

func TestRequestTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("should answer 504 when the handler exceeds the deadline", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestTimeout(50 * time.Millisecond))
		router.GET("/slow", blockPastDeadline)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))

		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
		assert.Contains(t, w.Body.String(), "request timed out")
	})

	t.Run("should pass the response through when the handler finishes in time", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestTimeout(500 * time.Millisecond))
		router.GET("/fast", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "success"})
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fast", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "success")
		assert.NotContains(t, w.Body.String(), "request timed out")
	})

	t.Run("should put the deadline on the request context", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestTimeout(time.Second))

		var hasDeadline bool
		router.GET("/deadline", func(c *gin.Context) {
			_, hasDeadline = c.Request.Context().Deadline()
			c.Status(http.StatusNoContent)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/deadline", nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.True(t, hasDeadline)
	})

	t.Run("should leave an already written response alone", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestTimeout(50 * time.Millisecond))

		released := make(chan struct{})
		router.GET("/stream", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "partial"})
			<-c.Request.Context().Done()
			close(released)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream", nil))

		select {
		case <-released:
		case <-time.After(time.Second):
			t.Fatal("handler never observed the deadline")
		}

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "partial")
		assert.NotContains(t, w.Body.String(), "request timed out")
	})

	t.Run("should propagate handler panics to the outer recovery", func(t *testing.T) {
		router := gin.New()
		router.Use(gin.Recovery())
		router.Use(RequestTimeout(time.Second))
		router.GET("/panic", func(c *gin.Context) {
			panic("boom")
		})

		w := httptest.NewRecorder()
		require.NotPanics(t, func() {
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
		})

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("should keep the correlation ID header on a timed out request", func(t *testing.T) {
		router := gin.New()
		router.Use(CorrelationID())
		router.Use(RequestTimeout(50 * time.Millisecond))
		router.GET("/slow", blockPastDeadline)

		req := httptest.NewRequest(http.MethodGet, "/slow", nil)
		req.Header.Set(CorrelationIDHeader, "550e8400-e29b-41d4-a716-446655440000")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
		assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", w.Header().Get(CorrelationIDHeader))
	})
}

func BenchmarkRequestTimeout(b *testing.B) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestTimeout(30 * time.Second))
	router.GET("/ok", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}

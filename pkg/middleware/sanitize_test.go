package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSanitizeRouter() (*gin.Engine, *map[string]interface{}) {
	gin.SetMode(gin.TestMode)
	seen := make(map[string]interface{})

	router := gin.New()
	router.Use(SanitizeRequest())
	router.POST("/profile", func(c *gin.Context) {
		if err := c.ShouldBindJSON(&seen); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		c.Status(http.StatusNoContent)
	})
	router.GET("/search", func(c *gin.Context) {
		c.String(http.StatusOK, c.Query("q"))
	})

	return router, &seen
}

func postProfile(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/profile", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSanitizeRequest_ScrubsScriptVectors(t *testing.T) {
	router, seen := setupSanitizeRouter()

	w := postProfile(router, `{"display_name":"<script>alert(1)</script>Frequent Flyer","bio":"great   driver"}`)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "Frequent Flyer", (*seen)["display_name"])
	assert.Equal(t, "great driver", (*seen)["bio"])
}

func TestSanitizeRequest_PreservesPasswordFields(t *testing.T) {
	router, seen := setupSanitizeRouter()

	w := postProfile(router, `{"display_name":"<b>Jo</b>","password":" p@ss<script>word ","new_password":"<keep me>"}`)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, " p@ss<script>word ", (*seen)["password"])
	assert.Equal(t, "<keep me>", (*seen)["new_password"])
	assert.Equal(t, "&lt;b&gt;Jo&lt;/b&gt;", (*seen)["display_name"])
}

func TestSanitizeRequest_ScrubsNestedValues(t *testing.T) {
	router, seen := setupSanitizeRouter()

	w := postProfile(router, `{"profile":{"bio":"<iframe src=x></iframe>legit"},"tags":["<script>a</script>ok","clean"],"credentials":{"password":"<as sent>"}}`)

	require.Equal(t, http.StatusNoContent, w.Code)

	profile, ok := (*seen)["profile"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "legit", profile["bio"])

	tags, ok := (*seen)["tags"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", tags[0])
	assert.Equal(t, "clean", tags[1])

	credentials, ok := (*seen)["credentials"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "<as sent>", credentials["password"], "exemption must hold at any depth")
}

func TestSanitizeRequest_ScrubsQueryParams(t *testing.T) {
	router, _ := setupSanitizeRouter()

	req := httptest.NewRequest(http.MethodGet, "/search?q=%3Cscript%3Ex%3C%2Fscript%3EJFK", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "JFK", w.Body.String())
}

func TestSanitizeRequest_LeavesMalformedJSONForBinding(t *testing.T) {
	router, _ := setupSanitizeRouter()

	w := postProfile(router, `{"display_name": "x"`)

	// The original bytes must reach the handler so its binding reports the error.
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid payload")
}

func TestSanitizeRequest_SkipsNonJSONBodies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SanitizeRequest())
	router.POST("/raw", func(c *gin.Context) {
		data, err := io.ReadAll(c.Request.Body)
		require.NoError(t, err)
		c.String(http.StatusOK, string(data))
	})

	body := `<script>alert(1)</script>`
	req := httptest.NewRequest(http.MethodPost, "/raw", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, body, w.Body.String())
}

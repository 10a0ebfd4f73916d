package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aeroride/carpool/pkg/security"
)

const maxSanitizedBodySize = 2 << 20 // 2 MB

// Secrets are hashed or compared verbatim; rewriting them before binding
// would lock the user out of their own account.
var sanitizeExemptFields = map[string]struct{}{
	"password":         {},
	"current_password": {},
	"new_password":     {},
}

// SanitizeRequest scrubs query parameters and JSON body strings of injection
// vectors before handlers bind them. Registered ahead of the routes so every
// binding sees cleaned input.
func SanitizeRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		scrubQuery(c)
		scrubJSONBody(c)
		c.Next()
	}
}

func scrubQuery(c *gin.Context) {
	query := c.Request.URL.Query()
	changed := false

	for key, values := range query {
		for i, value := range values {
			if cleaned := security.SanitizeInput(value, 0); cleaned != value {
				query[key][i] = cleaned
				changed = true
			}
		}
	}

	if changed {
		c.Request.URL.RawQuery = query.Encode()
	}
}

// scrubJSONBody rewrites the request body with sanitized string values. On
// any read or parse problem the original body is restored untouched so the
// handler's own binding reports the error.
func scrubJSONBody(c *gin.Context) {
	if c.Request.Body == nil {
		return
	}
	if !strings.Contains(c.GetHeader("Content-Type"), "application/json") {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSanitizedBodySize))
	if err != nil {
		c.Request.Body = http.NoBody
		return
	}
	if len(raw) == 0 {
		restoreBody(c, raw)
		return
	}

	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		restoreBody(c, raw)
		return
	}

	scrubValue(&payload, "")

	cleaned, err := json.Marshal(payload)
	if err != nil {
		restoreBody(c, raw)
		return
	}
	restoreBody(c, cleaned)
}

func restoreBody(c *gin.Context, body []byte) {
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
}

func scrubValue(value *interface{}, field string) {
	switch v := (*value).(type) {
	case string:
		if _, exempt := sanitizeExemptFields[field]; exempt {
			return
		}
		*value = security.SanitizeInput(v, 0)
	case []interface{}:
		for i := range v {
			item := v[i]
			scrubValue(&item, field)
			v[i] = item
		}
	case map[string]interface{}:
		for key, item := range v {
			scrubValue(&item, key)
			v[key] = item
		}
	}
}

// Package pagination parses the limit/offset query pair shared by every
// list endpoint and builds the response meta block.
package pagination

import (
	"math"

	"github.com/gin-gonic/gin"

	"github.com/aeroride/carpool/pkg/common"
)

const (
	// DefaultLimit applies when the client sends none.
	DefaultLimit = 20
	// MaxLimit caps a single page; larger requests are clamped, not refused.
	MaxLimit = 100
)

// Params is the validated limit/offset pair.
type Params struct {
	Limit  int `form:"limit" json:"limit"`
	Offset int `form:"offset" json:"offset"`
}

// ParseParams reads limit and offset from the query string. Unparseable or
// out-of-range values fall back to the defaults so list endpoints never fail
// on pagination input.
func ParseParams(c *gin.Context) Params {
	params := Params{Limit: DefaultLimit}
	if err := c.ShouldBindQuery(&params); err != nil {
		return Params{Limit: DefaultLimit}
	}

	if params.Limit <= 0 {
		params.Limit = DefaultLimit
	} else if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	return params
}

// BuildMeta fills the meta block for a paginated response.
func BuildMeta(limit, offset int, total int64) *common.Meta {
	meta := &common.Meta{
		Limit:  limit,
		Offset: offset,
		Total:  total,
	}
	if limit > 0 {
		meta.TotalPages = int(math.Ceil(float64(total) / float64(limit)))
	}
	return meta
}

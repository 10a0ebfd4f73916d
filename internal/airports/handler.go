package airports

import (
	"github.com/gin-gonic/gin"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/models"
	"github.com/aeroride/carpool/pkg/pagination"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the public airport catalog routes.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	airports := router.Group("/airports")
	{
		airports.GET("", h.Search)
		airports.GET("/:id", h.GetAirport)
	}
}

func (h *Handler) Search(c *gin.Context) {
	var query models.AirportSearchQuery
	if !common.BindQuery(c, &query) {
		return
	}
	params := pagination.ParseParams(c)

	airports, total, err := h.service.Search(c.Request.Context(), &query, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to search airports") {
		return
	}
	common.SuccessResponseWithMeta(c, airports, pagination.BuildMeta(params.Limit, params.Offset, total))
}

func (h *Handler) GetAirport(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "airport ID")
	if !ok {
		return
	}

	airport, err := h.service.GetAirport(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "failed to get airport") {
		return
	}
	common.SuccessResponse(c, airport)
}

package ratings

import (
	"github.com/gin-gonic/gin"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/middleware"
	"github.com/aeroride/carpool/pkg/models"
	"github.com/aeroride/carpool/pkg/pagination"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers rating routes on an authenticated group.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup) {
	ratings := authed.Group("/ratings")
	{
		ratings.POST("", h.Submit)
		ratings.GET("/pending", h.Pending)
		ratings.GET("/can-rate/:bookingId", h.CanRate)
		ratings.GET("/stats/:userId", h.Stats)
	}
	authed.GET("/users/:id/ratings", h.UserRatings)
}

func (h *Handler) Submit(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	var req models.SubmitRatingRequest
	if !common.BindJSON(c, &req) {
		return
	}

	rating, err := h.service.Submit(c.Request.Context(), userID, &req)
	if common.HandleServiceError(c, err, "failed to submit rating") {
		return
	}
	common.CreatedResponse(c, rating)
}

func (h *Handler) Pending(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	params := pagination.ParseParams(c)

	bookings, err := h.service.PendingRatings(c.Request.Context(), userID, params.Limit)
	if common.HandleServiceError(c, err, "failed to list pending ratings") {
		return
	}
	common.SuccessResponse(c, gin.H{"bookings": bookings})
}

func (h *Handler) CanRate(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	bookingID, ok := common.ParseUUIDParam(c, "bookingId", "booking ID")
	if !ok {
		return
	}

	result, err := h.service.CanRate(c.Request.Context(), userID, bookingID)
	if common.HandleServiceError(c, err, "failed to check rating eligibility") {
		return
	}
	common.SuccessResponse(c, result)
}

func (h *Handler) UserRatings(c *gin.Context) {
	if _, ok := common.RequireUserID(c, middleware.GetUserID); !ok {
		return
	}
	targetID, ok := common.ParseUUIDParam(c, "id", "user ID")
	if !ok {
		return
	}
	params := pagination.ParseParams(c)

	ratings, total, err := h.service.UserRatings(c.Request.Context(), targetID, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list ratings") {
		return
	}
	common.SuccessResponseWithMeta(c, gin.H{"ratings": ratings},
		pagination.BuildMeta(params.Limit, params.Offset, total))
}

func (h *Handler) Stats(c *gin.Context) {
	if _, ok := common.RequireUserID(c, middleware.GetUserID); !ok {
		return
	}
	targetID, ok := common.ParseUUIDParam(c, "userId", "user ID")
	if !ok {
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), targetID)
	if common.HandleServiceError(c, err, "failed to load rating stats") {
		return
	}
	common.SuccessResponse(c, stats)
}

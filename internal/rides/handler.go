package rides

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/middleware"
	"github.com/aeroride/carpool/pkg/models"
	"github.com/aeroride/carpool/pkg/pagination"
)

type Handler struct {
	service   *Service
	canceller RideCanceller
}

func NewHandler(service *Service, canceller RideCanceller) *Handler {
	return &Handler{service: service, canceller: canceller}
}

// RegisterPublicRoutes registers ride discovery routes.
func (h *Handler) RegisterPublicRoutes(router *gin.RouterGroup) {
	rides := router.Group("/rides")
	{
		rides.GET("/search", h.Search)
		rides.GET("/:id", h.GetRide)
	}
}

// RegisterRoutes registers driver-side ride routes on an authenticated group.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup) {
	rides := authed.Group("/rides")
	{
		rides.GET("/my-rides", h.MyRides)
		rides.POST("", middleware.RequireDriver(), h.CreateRide)
		rides.POST("/route-preview", middleware.RequireDriver(), h.PreviewRoute)
		rides.PATCH("/:id", middleware.RequireDriver(), h.UpdateRide)
		rides.DELETE("/:id", middleware.RequireDriver(), h.CancelRide)
	}
}

func (h *Handler) Search(c *gin.Context) {
	var query models.RideSearchQuery
	if !common.BindQuery(c, &query) {
		return
	}
	params := pagination.ParseParams(c)

	rides, total, err := h.service.Search(c.Request.Context(), &query, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to search rides") {
		return
	}
	common.SuccessResponseWithMeta(c, rides, pagination.BuildMeta(params.Limit, params.Offset, total))
}

func (h *Handler) GetRide(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "ride ID")
	if !ok {
		return
	}

	ride, err := h.service.GetRide(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "failed to get ride") {
		return
	}
	common.SuccessResponse(c, ride)
}

func (h *Handler) CreateRide(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var req models.CreateRideRequest
	if !common.BindJSON(c, &req) {
		return
	}

	ride, err := h.service.CreateRide(c.Request.Context(), userID, &req)
	if common.HandleServiceError(c, err, "failed to create ride") {
		return
	}
	common.CreatedResponse(c, ride)
}

func (h *Handler) UpdateRide(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	rideID, ok := common.ParseUUIDParam(c, "id", "ride ID")
	if !ok {
		return
	}

	var req models.UpdateRideRequest
	if !common.BindJSON(c, &req) {
		return
	}

	ride, err := h.service.UpdateRide(c.Request.Context(), userID, rideID, &req)
	if common.HandleServiceError(c, err, "failed to update ride") {
		return
	}
	common.SuccessResponse(c, ride)
}

func (h *Handler) CancelRide(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	rideID, ok := common.ParseUUIDParam(c, "id", "ride ID")
	if !ok {
		return
	}

	ride, warnings, err := h.canceller.CancelRide(c.Request.Context(), userID, rideID)
	if common.HandleServiceError(c, err, "failed to cancel ride") {
		return
	}

	message := "ride cancelled, all bookings refunded"
	if len(warnings) > 0 {
		message = "ride cancelled, some refunds need attention"
	}
	common.SuccessResponseWithMessage(c, gin.H{"ride": ride, "refund_warnings": warnings}, message)
}

func (h *Handler) MyRides(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	params := pagination.ParseParams(c)

	rides, total, err := h.service.MyRides(c.Request.Context(), userID, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list rides") {
		return
	}
	common.SuccessResponseWithMeta(c, rides, pagination.BuildMeta(params.Limit, params.Offset, total))
}

// PreviewRouteRequest asks for the polyline a ride would be published with.
type PreviewRouteRequest struct {
	AirportID uuid.UUID            `json:"airport_id" binding:"required"`
	Direction models.RideDirection `json:"direction" binding:"required,oneof=to_airport from_airport"`
	Home      models.HomeLocation  `json:"home" binding:"required"`
}

func (h *Handler) PreviewRoute(c *gin.Context) {
	var req PreviewRouteRequest
	if !common.BindJSON(c, &req) {
		return
	}

	route, err := h.service.PreviewRoute(c.Request.Context(), req.Direction, req.Home, req.AirportID)
	if common.HandleServiceError(c, err, "failed to preview route") {
		return
	}
	common.SuccessResponse(c, gin.H{"route": route})
}

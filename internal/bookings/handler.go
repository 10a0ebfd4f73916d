package bookings

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/middleware"
	"github.com/aeroride/carpool/pkg/models"
	"github.com/aeroride/carpool/pkg/pagination"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes registers booking routes on an authenticated group.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup) {
	authed.POST("/rides/:id/bookings", h.CreateBooking)
	authed.GET("/rides/:id/bookings", middleware.RequireDriver(), h.RideBookings)
	authed.GET("/me/bookings", h.MyBookings)

	bookings := authed.Group("/bookings")
	{
		bookings.GET("/:id", h.GetBooking)
		bookings.PATCH("/:id", h.PatchBooking)
	}
}

func (h *Handler) CreateBooking(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	rideID, ok := common.ParseUUIDParam(c, "id", "ride ID")
	if !ok {
		return
	}

	var req models.CreateBookingRequest
	if !common.BindJSON(c, &req) {
		return
	}

	booking, err := h.engine.CreateBooking(c.Request.Context(), userID, rideID, &req)
	if common.HandleServiceError(c, err, "failed to create booking") {
		return
	}
	common.CreatedResponse(c, booking)
}

// bookingPatch carries either a state transition or a pending-booking edit;
// the presence of status picks the path.
type bookingPatch struct {
	Status  *models.BookingStatus `json:"status,omitempty" binding:"omitempty,oneof=accepted rejected cancelled"`
	Seats   *int                  `json:"seats,omitempty" binding:"omitempty,min=1,max=8"`
	Luggage *int                  `json:"luggage,omitempty" binding:"omitempty,min=0,max=8"`
	Pickup  *models.StopPoint     `json:"pickup,omitempty"`
	Dropoff *models.StopPoint     `json:"dropoff,omitempty"`
}

func (h *Handler) PatchBooking(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	bookingID, ok := common.ParseUUIDParam(c, "id", "booking ID")
	if !ok {
		return
	}

	var req bookingPatch
	if !common.BindJSON(c, &req) {
		return
	}

	if req.Status != nil {
		booking, warnings, err := h.engine.Transition(c.Request.Context(), userID, bookingID,
			&models.BookingTransitionRequest{Status: *req.Status})
		if common.HandleServiceError(c, err, "failed to update booking") {
			return
		}
		if len(warnings) > 0 {
			common.SuccessResponseWithMessage(c, gin.H{"booking": booking, "refund_warnings": warnings},
				"booking updated, refund needs attention")
			return
		}
		common.SuccessResponse(c, booking)
		return
	}

	if req.Seats == nil && req.Luggage == nil && req.Pickup == nil && req.Dropoff == nil {
		common.ErrorResponse(c, http.StatusBadRequest, "nothing to update")
		return
	}

	booking, err := h.engine.UpdateBooking(c.Request.Context(), userID, bookingID,
		&models.UpdateBookingRequest{Seats: req.Seats, Luggage: req.Luggage, Pickup: req.Pickup, Dropoff: req.Dropoff})
	if common.HandleServiceError(c, err, "failed to update booking") {
		return
	}
	common.SuccessResponse(c, booking)
}

func (h *Handler) GetBooking(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	bookingID, ok := common.ParseUUIDParam(c, "id", "booking ID")
	if !ok {
		return
	}

	booking, err := h.engine.GetBooking(c.Request.Context(), userID, bookingID)
	if common.HandleServiceError(c, err, "failed to get booking") {
		return
	}
	common.SuccessResponse(c, booking)
}

func (h *Handler) MyBookings(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	params := pagination.ParseParams(c)

	bookings, total, err := h.engine.MyBookings(c.Request.Context(), userID, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list bookings") {
		return
	}
	common.SuccessResponseWithMeta(c, bookings, pagination.BuildMeta(params.Limit, params.Offset, total))
}

func (h *Handler) RideBookings(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	rideID, ok := common.ParseUUIDParam(c, "id", "ride ID")
	if !ok {
		return
	}

	bookings, err := h.engine.RideBookings(c.Request.Context(), userID, rideID)
	if common.HandleServiceError(c, err, "failed to list ride bookings") {
		return
	}
	common.SuccessResponse(c, bookings)
}

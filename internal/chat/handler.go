package chat

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

// RegisterRoutes registers chat routes on an authenticated group.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup) {
	authed.POST("/bookings/:id/messages", h.Send)
	authed.GET("/bookings/:id/messages", h.List)
	authed.GET("/messages/unread-count", h.UnreadCount)
}

func (h *Handler) Send(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	bookingID, ok := common.ParseUUIDParam(c, "id", "booking ID")
	if !ok {
		return
	}
	var req models.SendMessageRequest
	if !common.BindJSON(c, &req) {
		return
	}

	message, err := h.service.SendMessage(c.Request.Context(), userID, bookingID, &req)
	if common.HandleServiceError(c, err, "failed to send message") {
		return
	}
	common.CreatedResponse(c, message)
}

func (h *Handler) List(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	bookingID, ok := common.ParseUUIDParam(c, "id", "booking ID")
	if !ok {
		return
	}
	params := pagination.ParseParams(c)

	messages, total, err := h.service.ListMessages(c.Request.Context(), userID, bookingID, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list messages") {
		return
	}
	common.SuccessResponseWithMeta(c, gin.H{"messages": messages},
		pagination.BuildMeta(params.Limit, params.Offset, total))
}

func (h *Handler) UnreadCount(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	count, err := h.service.UnreadCount(c.Request.Context(), userID)
	if common.HandleServiceError(c, err, "failed to count messages") {
		return
	}
	common.SuccessResponse(c, gin.H{"unread_count": count})
}

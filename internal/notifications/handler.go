package notifications

import (
	"github.com/gin-gonic/gin"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/middleware"
	"github.com/aeroride/carpool/pkg/pagination"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers notification routes on an authenticated group.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup) {
	notifications := authed.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.GET("/unread-count", h.UnreadCount)
		notifications.POST("/:id/read", h.MarkRead)
		notifications.POST("/read-all", h.MarkAllRead)
	}
}

func (h *Handler) List(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	params := pagination.ParseParams(c)
	unreadOnly := c.Query("unread") == "true"

	notifications, total, unread, err := h.service.List(c.Request.Context(), userID, unreadOnly, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list notifications") {
		return
	}

	common.SuccessResponseWithMeta(c,
		gin.H{"notifications": notifications, "unread_count": unread},
		pagination.BuildMeta(params.Limit, params.Offset, total))
}

func (h *Handler) UnreadCount(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	count, err := h.service.UnreadCount(c.Request.Context(), userID)
	if common.HandleServiceError(c, err, "failed to count notifications") {
		return
	}
	common.SuccessResponse(c, gin.H{"unread_count": count})
}

func (h *Handler) MarkRead(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	id, ok := common.ParseUUIDParam(c, "id", "notification ID")
	if !ok {
		return
	}

	err := h.service.MarkRead(c.Request.Context(), userID, id)
	if common.HandleServiceError(c, err, "failed to mark notification read") {
		return
	}
	common.SuccessResponseWithMessage(c, nil, "notification marked read")
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	n, err := h.service.MarkAllRead(c.Request.Context(), userID)
	if common.HandleServiceError(c, err, "failed to mark notifications read") {
		return
	}
	common.SuccessResponse(c, gin.H{"marked_read": n})
}

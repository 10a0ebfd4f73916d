package requests

import (
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

// RegisterRoutes registers request and offer routes on an authenticated group.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup) {
	requests := authed.Group("/ride-requests")
	{
		requests.POST("", h.CreateRequest)
		requests.GET("/my-requests", h.MyRequests)
		requests.GET("/my-offers", middleware.RequireDriver(), h.MyOffers)
		requests.GET("/available", middleware.RequireDriver(), h.SearchAvailable)
		requests.GET("/:id", h.GetRequest)
		requests.POST("/:id/offer", middleware.RequireDriver(), h.MakeOffer)
		requests.DELETE("/:id/offer", middleware.RequireDriver(), h.WithdrawOffer)
		requests.PUT("/:id/accept-offer", h.AcceptOffer)
		requests.POST("/:id/accept-offer-with-payment", h.AcceptOffer)
		requests.PUT("/:id/reject-offer", h.RejectOffer)
		requests.PUT("/:id/cancel", h.CancelRequest)
	}
}

func (h *Handler) CreateRequest(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var req models.CreateRequestRequest
	if !common.BindJSON(c, &req) {
		return
	}

	request, err := h.engine.CreateRequest(c.Request.Context(), userID, &req)
	if common.HandleServiceError(c, err, "failed to create request") {
		return
	}
	common.CreatedResponse(c, request)
}

func (h *Handler) GetRequest(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	requestID, ok := common.ParseUUIDParam(c, "id", "request ID")
	if !ok {
		return
	}

	request, err := h.engine.GetRequest(c.Request.Context(), userID, requestID)
	if common.HandleServiceError(c, err, "failed to get request") {
		return
	}
	common.SuccessResponse(c, request)
}

func (h *Handler) MyRequests(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	params := pagination.ParseParams(c)

	requests, total, err := h.engine.MyRequests(c.Request.Context(), userID, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list requests") {
		return
	}
	common.SuccessResponseWithMeta(c, requests, pagination.BuildMeta(params.Limit, params.Offset, total))
}

func (h *Handler) SearchAvailable(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var query models.RequestSearchQuery
	if !common.BindQuery(c, &query) {
		return
	}
	params := pagination.ParseParams(c)

	requests, total, err := h.engine.SearchAvailable(c.Request.Context(), userID, &query, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to search requests") {
		return
	}
	common.SuccessResponseWithMeta(c, requests, pagination.BuildMeta(params.Limit, params.Offset, total))
}

func (h *Handler) MakeOffer(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	requestID, ok := common.ParseUUIDParam(c, "id", "request ID")
	if !ok {
		return
	}

	var req models.MakeOfferRequest
	if !common.BindJSON(c, &req) {
		return
	}

	offer, err := h.engine.MakeOffer(c.Request.Context(), userID, requestID, &req)
	if common.HandleServiceError(c, err, "failed to make offer") {
		return
	}
	common.CreatedResponse(c, offer)
}

func (h *Handler) AcceptOffer(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	requestID, ok := common.ParseUUIDParam(c, "id", "request ID")
	if !ok {
		return
	}

	var req models.AcceptOfferRequest
	if !common.BindJSON(c, &req) {
		return
	}

	request, err := h.engine.AcceptOffer(c.Request.Context(), userID, requestID, &req)
	if common.HandleServiceError(c, err, "failed to accept offer") {
		return
	}
	common.SuccessResponseWithMessage(c, request, "offer accepted")
}

func (h *Handler) RejectOffer(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	requestID, ok := common.ParseUUIDParam(c, "id", "request ID")
	if !ok {
		return
	}

	var req models.RejectOfferRequest
	if !common.BindJSON(c, &req) {
		return
	}

	err := h.engine.RejectOffer(c.Request.Context(), userID, requestID, req.OfferID)
	if common.HandleServiceError(c, err, "failed to reject offer") {
		return
	}
	common.SuccessResponseWithMessage(c, nil, "offer rejected")
}

func (h *Handler) WithdrawOffer(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	requestID, ok := common.ParseUUIDParam(c, "id", "request ID")
	if !ok {
		return
	}

	err := h.engine.WithdrawOffer(c.Request.Context(), userID, requestID)
	if common.HandleServiceError(c, err, "failed to withdraw offer") {
		return
	}
	common.SuccessResponseWithMessage(c, nil, "offer withdrawn")
}

func (h *Handler) CancelRequest(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	requestID, ok := common.ParseUUIDParam(c, "id", "request ID")
	if !ok {
		return
	}

	err := h.engine.CancelRequest(c.Request.Context(), userID, requestID)
	if common.HandleServiceError(c, err, "failed to cancel request") {
		return
	}
	common.SuccessResponseWithMessage(c, nil, "request cancelled")
}

func (h *Handler) MyOffers(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	params := pagination.ParseParams(c)

	offers, total, err := h.engine.MyOffers(c.Request.Context(), userID, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list offers") {
		return
	}
	common.SuccessResponseWithMeta(c, offers, pagination.BuildMeta(params.Limit, params.Offset, total))
}

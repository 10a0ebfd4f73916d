package payments

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/middleware"
	"github.com/aeroride/carpool/pkg/models"
)

type Handler struct {
	service    *Service
	bookings   BookingCompleter
	reconciler *Reconciler
}

func NewHandler(service *Service, bookings BookingCompleter, reconciler *Reconciler) *Handler {
	return &Handler{service: service, bookings: bookings, reconciler: reconciler}
}

// RegisterRoutes registers payment routes on an authenticated group.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup) {
	payments := authed.Group("/payments")
	{
		payments.POST("/create-intent", h.CreateBookingIntent)
		payments.POST("/create-offer-intent", h.CreateOfferIntent)
		payments.POST("/complete", h.CompletePayment)
		payments.POST("/wallet", h.PayWithWallet)
	}
}

// RegisterWebhook registers the PSP webhook outside authentication. The
// signature header is the only credential.
func (h *Handler) RegisterWebhook(router *gin.RouterGroup) {
	router.POST("/stripe/webhook", h.Webhook)
}

// CreateBookingIntentRequest asks for a card intent covering seats on a ride.
type CreateBookingIntentRequest struct {
	RideID  uuid.UUID `json:"ride_id" binding:"required"`
	Seats   int       `json:"seats" binding:"required,min=1,max=8"`
	Luggage int       `json:"luggage" binding:"min=0,max=8"`
}

func (h *Handler) CreateBookingIntent(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var req CreateBookingIntentRequest
	if !common.BindJSON(c, &req) {
		return
	}

	intent, err := h.service.CreateBookingIntent(c.Request.Context(), userID, req.RideID, req.Seats, req.Luggage)
	if common.HandleServiceError(c, err, "failed to create payment intent") {
		return
	}
	common.SuccessResponse(c, intent)
}

// CreateOfferIntentRequest asks for a card intent covering an accepted offer.
type CreateOfferIntentRequest struct {
	RequestID uuid.UUID `json:"request_id" binding:"required"`
	OfferID   uuid.UUID `json:"offer_id" binding:"required"`
}

func (h *Handler) CreateOfferIntent(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var req CreateOfferIntentRequest
	if !common.BindJSON(c, &req) {
		return
	}

	intent, err := h.service.CreateOfferIntent(c.Request.Context(), userID, req.RequestID, req.OfferID)
	if common.HandleServiceError(c, err, "failed to create offer payment intent") {
		return
	}
	common.SuccessResponse(c, intent)
}

// CompletePaymentRequest finalizes a booking after the card intent succeeded.
type CompletePaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

func (h *Handler) CompletePayment(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var req CompletePaymentRequest
	if !common.BindJSON(c, &req) {
		return
	}

	booking, err := h.bookings.CompletePayment(c.Request.Context(), userID, req.PaymentIntentID)
	if common.HandleServiceError(c, err, "failed to complete payment") {
		return
	}
	common.SuccessResponseWithMessage(c, booking, "payment completed, booking confirmed")
}

// WalletPaymentRequest books a ride paid entirely from wallet balance.
type WalletPaymentRequest struct {
	RideID  uuid.UUID         `json:"ride_id" binding:"required"`
	Seats   int               `json:"seats" binding:"required,min=1,max=8"`
	Luggage int               `json:"luggage" binding:"min=0,max=8"`
	Pickup  *models.StopPoint `json:"pickup,omitempty"`
	Dropoff *models.StopPoint `json:"dropoff,omitempty"`
}

func (h *Handler) PayWithWallet(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var req WalletPaymentRequest
	if !common.BindJSON(c, &req) {
		return
	}

	booking, err := h.bookings.PayWithWallet(c.Request.Context(), userID, req.RideID, &models.CreateBookingRequest{
		Seats:   req.Seats,
		Luggage: req.Luggage,
		Pickup:  req.Pickup,
		Dropoff: req.Dropoff,
	})
	if common.HandleServiceError(c, err, "failed to pay with wallet") {
		return
	}
	common.SuccessResponseWithMessage(c, booking, "wallet payment completed, booking confirmed")
}

// Webhook receives PSP events. The raw body is required for signature
// verification, so no binding happens here.
func (h *Handler) Webhook(c *gin.Context) {
	const maxBodyBytes = 65536
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "failed to read webhook body")
		return
	}

	err = h.reconciler.HandleEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if common.HandleServiceError(c, err, "failed to process webhook event") {
		return
	}
	common.SuccessResponse(c, gin.H{"received": true})
}

package wallet

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

// RegisterRoutes registers wallet routes on an authenticated group.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup) {
	wallet := authed.Group("/wallet")
	{
		wallet.GET("", h.GetWallet)
		wallet.GET("/transactions", h.ListTransactions)
		wallet.GET("/payouts", h.ListPayouts)
		wallet.GET("/earnings-summary", h.EarningsSummary)
		wallet.GET("/calculate-earnings", h.CalculateEarnings)
		wallet.POST("/withdraw", h.Withdraw)
		wallet.POST("/connect-bank", h.ConnectBank)
		wallet.GET("/bank-status", h.BankStatus)
	}
}

func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	wallet, err := h.service.GetWallet(c.Request.Context(), userID)
	if common.HandleServiceError(c, err, "failed to get wallet") {
		return
	}
	common.SuccessResponse(c, wallet)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var filter models.TransactionFilter
	if !common.BindQuery(c, &filter) {
		return
	}
	params := pagination.ParseParams(c)

	txns, total, err := h.service.ListTransactions(c.Request.Context(), userID, &filter, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list transactions") {
		return
	}
	common.SuccessResponseWithMeta(c, txns, pagination.BuildMeta(params.Limit, params.Offset, total))
}

func (h *Handler) ListPayouts(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	params := pagination.ParseParams(c)

	payouts, total, err := h.service.ListPayouts(c.Request.Context(), userID, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list payouts") {
		return
	}
	common.SuccessResponseWithMeta(c, payouts, pagination.BuildMeta(params.Limit, params.Offset, total))
}

func (h *Handler) EarningsSummary(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	summary, err := h.service.GetEarningsSummary(c.Request.Context(), userID)
	if common.HandleServiceError(c, err, "failed to get earnings summary") {
		return
	}
	common.SuccessResponse(c, summary)
}

// CalculateEarningsQuery carries the fee preview input.
type CalculateEarningsQuery struct {
	Amount int64 `form:"amount" binding:"required,min=1"`
}

func (h *Handler) CalculateEarnings(c *gin.Context) {
	var q CalculateEarningsQuery
	if !common.BindQuery(c, &q) {
		return
	}

	fee, net := h.service.CalculateEarnings(q.Amount)
	common.SuccessResponse(c, gin.H{
		"gross_amount":   q.Amount,
		"fee_amount":     fee,
		"net_amount":     net,
		"fee_percentage": h.service.FeePercent(),
	})
}

func (h *Handler) Withdraw(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	var req models.WithdrawRequest
	if !common.BindJSON(c, &req) {
		return
	}

	payout, err := h.service.Withdraw(c.Request.Context(), userID, &req)
	if common.HandleServiceError(c, err, "failed to withdraw") {
		return
	}
	common.CreatedResponse(c, payout)
}

func (h *Handler) ConnectBank(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	email := c.GetString("user_email")

	account, err := h.service.ConnectBank(c.Request.Context(), userID, email)
	if common.HandleServiceError(c, err, "failed to connect bank") {
		return
	}
	common.SuccessResponse(c, gin.H{
		"account_id":     account.AccountID,
		"onboarding_url": account.OnboardingURL,
		"expires_at":     account.ExpiresAt,
	})
}

func (h *Handler) BankStatus(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	status, err := h.service.BankStatus(c.Request.Context(), userID)
	if common.HandleServiceError(c, err, "failed to get bank status") {
		return
	}
	common.SuccessResponse(c, gin.H{
		"connected":            status.AccountID != "",
		"account_id":           status.AccountID,
		"capabilities_enabled": status.CapabilitiesEnabled,
		"requirements_due":     status.RequirementsDue,
	})
}

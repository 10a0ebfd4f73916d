package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/middleware"
	"github.com/aeroride/carpool/pkg/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes registers the unauthenticated auth endpoints.
func (h *Handler) RegisterPublicRoutes(public *gin.RouterGroup) {
	auth := public.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)
	}

	reset := public.Group("/forgot-password")
	{
		reset.POST("/send-code", h.ForgotPassword)
		reset.POST("/verify-code", h.VerifyResetCode)
		reset.POST("/verify-phone", h.VerifyPhone)
		reset.POST("/reset", h.ResetPassword)
	}
}

// RegisterRoutes registers the authenticated account endpoints.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup) {
	auth := authed.Group("/auth")
	{
		auth.DELETE("/me", h.DeleteAccount)
		auth.POST("/send-email-otp", h.SendEmailOTP)
		auth.POST("/verify-email-otp", h.VerifyEmailOTP)
	}

	me := authed.Group("/me")
	{
		me.GET("", h.GetProfile)
		me.PATCH("", h.UpdateProfile)
		me.POST("/change-password", h.ChangePassword)
	}
}

func (h *Handler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if !common.BindJSON(c, &req) {
		return
	}

	response, err := h.service.Register(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to register") {
		return
	}
	common.CreatedResponse(c, response)
}

func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if !common.BindJSON(c, &req) {
		return
	}

	response, err := h.service.Login(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to login") {
		return
	}
	common.SuccessResponse(c, response)
}

func (h *Handler) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if !common.BindJSON(c, &req) {
		return
	}

	tokens, err := h.service.Refresh(c.Request.Context(), req.RefreshToken)
	if common.HandleServiceError(c, err, "failed to refresh token") {
		return
	}
	common.SuccessResponse(c, tokens)
}

func (h *Handler) Logout(c *gin.Context) {
	var req models.RefreshRequest
	if !common.BindJSON(c, &req) {
		return
	}

	err := h.service.Logout(c.Request.Context(), req.RefreshToken)
	if common.HandleServiceError(c, err, "failed to logout") {
		return
	}
	common.SuccessResponseWithMessage(c, nil, "logged out")
}

func (h *Handler) ForgotPassword(c *gin.Context) {
	var req models.ForgotPasswordRequest
	if !common.BindJSON(c, &req) {
		return
	}

	err := h.service.ForgotPassword(c.Request.Context(), req.Email)
	if common.HandleServiceError(c, err, "failed to start password reset") {
		return
	}
	common.SuccessResponseWithMessage(c, nil, "if the account exists, a reset code was sent")
}

func (h *Handler) VerifyResetCode(c *gin.Context) {
	var req models.VerifyResetCodeRequest
	if !common.BindJSON(c, &req) {
		return
	}

	err := h.service.VerifyResetCode(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to verify code") {
		return
	}
	common.SuccessResponseWithMessage(c, nil, "code verified")
}

func (h *Handler) VerifyPhone(c *gin.Context) {
	var req models.VerifyPhoneRequest
	if !common.BindJSON(c, &req) {
		return
	}

	result, err := h.service.VerifyPhoneForReset(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to verify phone") {
		return
	}
	common.SuccessResponse(c, result)
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req models.ResetPasswordRequest
	if !common.BindJSON(c, &req) {
		return
	}

	err := h.service.ResetPassword(c.Request.Context(), &req)
	if common.HandleServiceError(c, err, "failed to reset password") {
		return
	}
	common.SuccessResponseWithMessage(c, nil, "password updated")
}

func (h *Handler) GetProfile(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	user, err := h.service.GetProfile(c.Request.Context(), userID)
	if common.HandleServiceError(c, err, "failed to load profile") {
		return
	}
	common.SuccessResponse(c, user)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	var req models.UpdateProfileRequest
	if !common.BindJSON(c, &req) {
		return
	}

	user, err := h.service.UpdateProfile(c.Request.Context(), userID, &req)
	if common.HandleServiceError(c, err, "failed to update profile") {
		return
	}
	common.SuccessResponse(c, user)
}

func (h *Handler) ChangePassword(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	var req models.ChangePasswordRequest
	if !common.BindJSON(c, &req) {
		return
	}

	err := h.service.ChangePassword(c.Request.Context(), userID, &req)
	if common.HandleServiceError(c, err, "failed to change password") {
		return
	}
	common.SuccessResponseWithMessage(c, nil, "password changed, other sessions were logged out")
}

func (h *Handler) VerifyEmailOTP(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}
	var req models.VerifyEmailRequest
	if !common.BindJSON(c, &req) {
		return
	}

	err := h.service.VerifyEmail(c.Request.Context(), userID, req.Code)
	if common.HandleServiceError(c, err, "failed to verify email") {
		return
	}
	common.SuccessResponseWithMessage(c, nil, "email verified")
}

func (h *Handler) SendEmailOTP(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	err := h.service.RequestEmailVerification(c.Request.Context(), userID)
	if common.HandleServiceError(c, err, "failed to send verification code") {
		return
	}
	common.SuccessResponseWithMessage(c, nil, "verification code sent")
}

func (h *Handler) DeleteAccount(c *gin.Context) {
	userID, ok := common.RequireUserID(c, middleware.GetUserID)
	if !ok {
		return
	}

	err := h.service.DeleteAccount(c.Request.Context(), userID)
	if common.HandleServiceError(c, err, "failed to delete account") {
		return
	}
	common.SuccessResponseWithMessage(c, nil, "account deleted")
}

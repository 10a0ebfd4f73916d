package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/aeroride/carpool/pkg/clock"
	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/config"
	"github.com/aeroride/carpool/pkg/logger"
	"github.com/aeroride/carpool/pkg/middleware"
	"github.com/aeroride/carpool/pkg/models"
	"github.com/aeroride/carpool/pkg/ratelimit"
	"github.com/aeroride/carpool/pkg/security"
)

const (
	otpTTLMinutes  = 10
	otpMaxAttempts = 5
)

// otpRule throttles code issuance per account.
var otpRule = ratelimit.Rule{Limit: 3, Burst: 1, Window: time.Hour}

// Service handles authentication business logic. Refresh tokens rotate on
// every use; a replayed token revokes the whole session family.
type Service struct {
	repo    RepositoryInterface
	mailer  OTPMailer
	phones  PhoneVerifier
	limiter *ratelimit.Limiter
	jwt     config.JWTConfig
	clock   clock.Clock
}

// NewService creates a new auth service
func NewService(repo RepositoryInterface, mailer OTPMailer, phones PhoneVerifier, limiter *ratelimit.Limiter, jwtCfg config.JWTConfig, clk clock.Clock) *Service {
	return &Service{
		repo:    repo,
		mailer:  mailer,
		phones:  phones,
		limiter: limiter,
		jwt:     jwtCfg,
		clock:   clk,
	}
}

// Register creates an account and emails a verification code.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.LoginResponse, error) {
	email := security.SanitizeEmail(req.Email)

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, common.NewInternalError("failed to hash password", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hashedPassword),
		DisplayName:  req.DisplayName,
		Role:         req.Role,
	}
	if req.Phone != "" {
		phone := security.SanitizePhone(req.Phone)
		user.Phone = &phone
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	if err := s.issueOTP(ctx, user, PurposeVerifyEmail); err != nil {
		// Registration stands; the user can re-request the code.
		logger.WarnContext(ctx, "failed to send verification code", zap.Error(err))
	}

	tokens, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	user.PasswordHash = ""
	return &models.LoginResponse{User: user, Tokens: *tokens}, nil
}

// Login authenticates a user and returns a fresh token pair.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	email := security.SanitizeEmail(req.Email)

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, common.NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, common.NewUnauthorizedError("invalid credentials")
	}

	tokens, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	user.PasswordHash = ""
	return &models.LoginResponse{User: user, Tokens: *tokens}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued. Presenting an already revoked token is treated as theft and
// kills every session the user has.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	claims, err := middleware.ParseToken(s.jwt.RefreshSecret, refreshToken)
	if err != nil {
		return nil, common.NewUnauthorizedError("invalid or expired refresh token")
	}

	record, err := s.repo.GetRefreshToken(ctx, hashToken(refreshToken))
	if err != nil {
		return nil, common.NewUnauthorizedError("invalid or expired refresh token")
	}
	if record.RevokedAt != nil {
		logger.WarnContext(ctx, "revoked refresh token replayed, revoking session family",
			zap.String("user_id", record.UserID.String()))
		_ = s.repo.RevokeAllRefreshTokens(ctx, record.UserID)
		return nil, common.NewUnauthorizedError("invalid or expired refresh token")
	}
	if s.clock.Now().After(record.ExpiresAt) {
		return nil, common.NewUnauthorizedError("invalid or expired refresh token")
	}

	user, err := s.repo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, common.NewUnauthorizedError("invalid or expired refresh token")
	}

	if err := s.repo.RevokeRefreshToken(ctx, record.ID); err != nil {
		return nil, err
	}
	return s.issueTokenPair(ctx, user)
}

// Logout revokes the presented refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	record, err := s.repo.GetRefreshToken(ctx, hashToken(refreshToken))
	if err != nil {
		if common.IsNotFound(err) {
			return nil
		}
		return err
	}
	return s.repo.RevokeRefreshToken(ctx, record.ID)
}

// GetProfile returns the caller's account.
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

// UpdateProfile applies partial profile updates.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, req *models.UpdateProfileRequest) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if req.Phone != nil {
		phone := security.SanitizePhone(*req.Phone)
		user.Phone = &phone
	}
	if req.AvatarURL != nil {
		user.AvatarURL = req.AvatarURL
	}
	if req.SavedLocations != nil {
		user.SavedLocations = req.SavedLocations
	}

	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

// ChangePassword verifies the current password, sets the new one and logs
// every other device out.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, req *models.ChangePasswordRequest) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return common.NewUnauthorizedError("current password is incorrect")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return common.NewInternalError("failed to hash password", err)
	}
	if err := s.repo.UpdatePassword(ctx, userID, string(hashedPassword)); err != nil {
		return err
	}
	return s.repo.RevokeAllRefreshTokens(ctx, userID)
}

// RequestEmailVerification issues a fresh verification code.
func (s *Service) RequestEmailVerification(ctx context.Context, userID uuid.UUID) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return common.NewStateError("email is already verified")
	}
	return s.issueOTP(ctx, user, PurposeVerifyEmail)
}

// VerifyEmail consumes a verification code.
func (s *Service) VerifyEmail(ctx context.Context, userID uuid.UUID, code string) error {
	if err := s.checkOTP(ctx, userID, PurposeVerifyEmail, code); err != nil {
		return err
	}
	return s.repo.SetEmailVerified(ctx, userID)
}

// ForgotPassword starts a reset flow. Unknown emails are acknowledged without
// action so the endpoint cannot be used to probe accounts.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.repo.GetUserByEmail(ctx, security.SanitizeEmail(email))
	if err != nil {
		if common.IsNotFound(err) {
			return nil
		}
		return err
	}
	return s.issueOTP(ctx, user, PurposeResetPassword)
}

// VerifyResetCode checks a reset code without consuming it, so a client can
// confirm the code before collecting the new password.
func (s *Service) VerifyResetCode(ctx context.Context, req *models.VerifyResetCodeRequest) error {
	user, err := s.repo.GetUserByEmail(ctx, security.SanitizeEmail(req.Email))
	if err != nil {
		return common.NewUnauthorizedError("invalid code")
	}
	_, err = s.matchOTP(ctx, user.ID, PurposeResetPassword, req.Code)
	return err
}

// VerifyPhoneForReset proves phone ownership through the phone auth provider
// and mints a reset code for the account on that number. The code comes back
// in the response because there is no email leg on this path.
func (s *Service) VerifyPhoneForReset(ctx context.Context, req *models.VerifyPhoneRequest) (*models.PhoneResetResponse, error) {
	if s.phones == nil {
		return nil, common.NewServiceUnavailableError("phone verification is not configured")
	}

	phone, err := s.phones.VerifyPhoneToken(ctx, req.IDToken)
	if err != nil {
		return nil, common.NewUnauthorizedError("phone verification failed")
	}
	user, err := s.repo.GetUserByPhone(ctx, security.SanitizePhone(phone))
	if err != nil {
		return nil, common.NewUnauthorizedError("phone verification failed")
	}

	result, err := s.limiter.Allow(ctx, fmt.Sprintf("otp:%s:%s", user.ID, PurposeResetPassword), otpRule)
	if err == nil && !result.Allowed {
		return nil, common.NewRateLimitError("too many codes requested, try again later")
	}

	code, err := generateCode()
	if err != nil {
		return nil, common.NewInternalError("failed to generate code", err)
	}
	expiresAt := s.clock.Now().Add(otpTTLMinutes * time.Minute)
	if err := s.repo.CreateOTP(ctx, user.ID, hashToken(code), PurposeResetPassword, expiresAt); err != nil {
		return nil, err
	}

	return &models.PhoneResetResponse{Email: user.Email, ResetCode: code}, nil
}

// ResetPassword completes a reset with the emailed code and revokes every
// session.
func (s *Service) ResetPassword(ctx context.Context, req *models.ResetPasswordRequest) error {
	user, err := s.repo.GetUserByEmail(ctx, security.SanitizeEmail(req.Email))
	if err != nil {
		return common.NewUnauthorizedError("invalid code")
	}
	if err := s.checkOTP(ctx, user.ID, PurposeResetPassword, req.Code); err != nil {
		return err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return common.NewInternalError("failed to hash password", err)
	}
	if err := s.repo.UpdatePassword(ctx, user.ID, string(hashedPassword)); err != nil {
		return err
	}
	return s.repo.RevokeAllRefreshTokens(ctx, user.ID)
}

// DeleteAccount soft-deletes the account and revokes all sessions. Ledger and
// booking history stay intact.
func (s *Service) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.SoftDeleteUser(ctx, userID); err != nil {
		return err
	}
	return s.repo.RevokeAllRefreshTokens(ctx, userID)
}

func (s *Service) issueTokenPair(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	now := s.clock.Now()

	accessToken, err := middleware.IssueToken(s.jwt.Secret, user, s.jwt.AccessTTL, now)
	if err != nil {
		return nil, common.NewInternalError("failed to issue access token", err)
	}
	refreshToken, err := middleware.IssueToken(s.jwt.RefreshSecret, user, s.jwt.RefreshTTL, now)
	if err != nil {
		return nil, common.NewInternalError("failed to issue refresh token", err)
	}

	err = s.repo.CreateRefreshToken(ctx, user.ID, hashToken(refreshToken), now.Add(s.jwt.RefreshTTL))
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *Service) issueOTP(ctx context.Context, user *models.User, purpose OTPPurpose) error {
	result, err := s.limiter.Allow(ctx, fmt.Sprintf("otp:%s:%s", user.ID, purpose), otpRule)
	if err == nil && !result.Allowed {
		return common.NewRateLimitError("too many codes requested, try again later")
	}

	code, err := generateCode()
	if err != nil {
		return common.NewInternalError("failed to generate code", err)
	}

	expiresAt := s.clock.Now().Add(otpTTLMinutes * time.Minute)
	if err := s.repo.CreateOTP(ctx, user.ID, hashToken(code), purpose, expiresAt); err != nil {
		return err
	}

	if s.mailer == nil {
		return nil
	}
	if err := s.mailer.SendOTPEmail(user.Email, user.DisplayName, code, otpTTLMinutes); err != nil {
		return common.NewServiceUnavailableError("failed to send code email")
	}
	return nil
}

func (s *Service) checkOTP(ctx context.Context, userID uuid.UUID, purpose OTPPurpose, code string) error {
	record, err := s.matchOTP(ctx, userID, purpose, code)
	if err != nil {
		return err
	}
	return s.repo.ConsumeOTP(ctx, record.ID)
}

// matchOTP validates a code against the active record without consuming it.
// Mismatches still count against the attempt budget.
func (s *Service) matchOTP(ctx context.Context, userID uuid.UUID, purpose OTPPurpose, code string) (*OTPRecord, error) {
	record, err := s.repo.GetActiveOTP(ctx, userID, purpose)
	if err != nil {
		if common.IsNotFound(err) {
			return nil, common.NewUnauthorizedError("invalid code")
		}
		return nil, err
	}
	if record.Attempts >= otpMaxAttempts {
		return nil, common.NewUnauthorizedError("too many attempts, request a new code")
	}

	if subtle.ConstantTimeCompare([]byte(record.CodeHash), []byte(hashToken(code))) != 1 {
		_ = s.repo.IncrementOTPAttempts(ctx, record.ID)
		return nil, common.NewUnauthorizedError("invalid code")
	}
	return record, nil
}

// hashToken is the storage form of refresh tokens and one-time codes.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// generateCode returns a 6 digit numeric code.
func generateCode() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	n := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	return fmt.Sprintf("%06d", n%1000000), nil
}

package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aeroride/carpool/pkg/models"
)

// OTPPurpose scopes an email one-time code to a single flow.
type OTPPurpose string

const (
	PurposeVerifyEmail   OTPPurpose = "verify_email"
	PurposeResetPassword OTPPurpose = "reset_password"
)

// RefreshRecord is a stored refresh token. Only the SHA-256 of the token ever
// touches the database.
type RefreshRecord struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// OTPRecord is a stored email one-time code, hashed like refresh tokens.
type OTPRecord struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	CodeHash   string
	Purpose    OTPPurpose
	Attempts   int
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// RepositoryInterface is the auth persistence surface.
type RepositoryInterface interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateProfile(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
	SetEmailVerified(ctx context.Context, userID uuid.UUID) error
	SoftDeleteUser(ctx context.Context, userID uuid.UUID) error

	CreateRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshRecord, error)
	RevokeRefreshToken(ctx context.Context, id uuid.UUID) error
	RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID) error

	CreateOTP(ctx context.Context, userID uuid.UUID, codeHash string, purpose OTPPurpose, expiresAt time.Time) error
	GetActiveOTP(ctx context.Context, userID uuid.UUID, purpose OTPPurpose) (*OTPRecord, error)
	IncrementOTPAttempts(ctx context.Context, id uuid.UUID) error
	ConsumeOTP(ctx context.Context, id uuid.UUID) error
}

// OTPMailer delivers one-time codes. Implemented by the notifications SMTP
// client.
type OTPMailer interface {
	SendOTPEmail(to, name, code string, minutes int) error
}

// PhoneVerifier validates a phone auth provider token and returns the proven
// phone number. A nil verifier disables the phone reset path.
type PhoneVerifier interface {
	VerifyPhoneToken(ctx context.Context, idToken string) (string, error)
}

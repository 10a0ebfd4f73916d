package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole represents user role type
type UserRole string

const (
	RoleDriver    UserRole = "driver"
	RolePassenger UserRole = "passenger"
	RoleBoth      UserRole = "both"
)

// CanDrive reports whether the role allows publishing rides and making offers.
func (r UserRole) CanDrive() bool {
	return r == RoleDriver || r == RoleBoth
}

// SavedLocation is a user-labelled address with coordinates.
type SavedLocation struct {
	Label    string  `json:"label"`
	Address  string  `json:"address"`
	City     string  `json:"city"`
	Postcode string  `json:"postcode,omitempty"`
	Lat      float64 `json:"lat" binding:"latitude"`
	Lon      float64 `json:"lon" binding:"longitude"`
}

// User represents an account that may act as driver, passenger or both.
type User struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	Email             string          `json:"email" db:"email"`
	Phone             *string         `json:"phone,omitempty" db:"phone"`
	PhoneVerified     bool            `json:"phone_verified" db:"phone_verified"`
	EmailVerified     bool            `json:"email_verified" db:"email_verified"`
	PasswordHash      string          `json:"-" db:"password_hash"`
	DisplayName       string          `json:"display_name" db:"display_name"`
	Role              UserRole        `json:"role" db:"role"`
	StripeAccountID   *string         `json:"stripe_account_id,omitempty" db:"stripe_account_id"`
	PayoutsEnabled    bool            `json:"payouts_enabled" db:"payouts_enabled"`
	AvatarURL         *string         `json:"avatar_url,omitempty" db:"avatar_url"`
	KYCImageRefs      []string        `json:"kyc_image_refs,omitempty" db:"kyc_image_refs"`
	RatingMean        float64         `json:"rating_mean" db:"rating_mean"`
	RatingCount       int             `json:"rating_count" db:"rating_count"`
	SavedLocations    []SavedLocation `json:"saved_locations,omitempty" db:"saved_locations"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	SoftDeletedAt     *time.Time      `json:"-" db:"soft_deleted_at"`
}

// PublicUser is the projection exposed to other marketplace participants.
type PublicUser struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	RatingMean  float64   `json:"rating_mean"`
	RatingCount int       `json:"rating_count"`
}

// Public strips private fields from a User.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		RatingMean:  u.RatingMean,
		RatingCount: u.RatingCount,
	}
}

// RegisterRequest represents registration request
type RegisterRequest struct {
	Email       string   `json:"email" binding:"required,email"`
	Password    string   `json:"password" binding:"required,min=8"`
	DisplayName string   `json:"display_name" binding:"required,min=2,max=64"`
	Role        UserRole `json:"role" binding:"required,oneof=driver passenger both"`
	Phone       string   `json:"phone,omitempty" binding:"omitempty,phone"`
}

// LoginRequest represents login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenPair carries access and refresh tokens.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginResponse represents login response
type LoginResponse struct {
	User   *User     `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// RefreshRequest carries a refresh token for rotation or logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// UpdateProfileRequest carries partial profile updates.
type UpdateProfileRequest struct {
	DisplayName    *string         `json:"display_name,omitempty" binding:"omitempty,min=2,max=64"`
	Phone          *string         `json:"phone,omitempty" binding:"omitempty,phone"`
	AvatarURL      *string         `json:"avatar_url,omitempty"`
	SavedLocations []SavedLocation `json:"saved_locations,omitempty"`
}

// ChangePasswordRequest carries a password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

// VerifyEmailRequest carries an email verification code.
type VerifyEmailRequest struct {
	Code string `json:"code" binding:"required,len=6"`
}

// ForgotPasswordRequest starts a password reset.
type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// VerifyResetCodeRequest checks a reset code ahead of the actual reset.
type VerifyResetCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,len=6"`
}

// VerifyPhoneRequest proves phone ownership with a phone auth provider token.
type VerifyPhoneRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

// PhoneResetResponse hands the phone-verified caller what the reset endpoint
// needs.
type PhoneResetResponse struct {
	Email     string `json:"email"`
	ResetCode string `json:"reset_code"`
}

// ResetPasswordRequest completes a password reset with an emailed code.
type ResetPasswordRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Code        string `json:"code" binding:"required,len=6"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

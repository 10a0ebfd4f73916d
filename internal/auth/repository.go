package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/models"
)

// Repository persists accounts, refresh tokens and email one-time codes.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new auth repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const userColumns = `
	id, email, phone, phone_verified, email_verified, password_hash,
	display_name, role, stripe_account_id, payouts_enabled, avatar_url,
	kyc_image_refs, rating_mean, rating_count, saved_locations,
	created_at, updated_at, soft_deleted_at
`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Phone,
		&user.PhoneVerified,
		&user.EmailVerified,
		&user.PasswordHash,
		&user.DisplayName,
		&user.Role,
		&user.StripeAccountID,
		&user.PayoutsEnabled,
		&user.AvatarURL,
		&user.KYCImageRefs,
		&user.RatingMean,
		&user.RatingCount,
		&user.SavedLocations,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.SoftDeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser inserts a new account.
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (email, phone, password_hash, display_name, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, user.Email, user.Phone, user.PasswordHash, user.DisplayName, user.Role,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return common.NewConflictError("an account with this email already exists")
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByEmail returns a live account by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1 AND soft_deleted_at IS NULL
	`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("user not found", err)
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// GetUserByPhone returns a live account by phone number.
func (r *Repository) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE phone = $1 AND soft_deleted_at IS NULL
	`, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("user not found", err)
		}
		return nil, fmt.Errorf("failed to get user by phone: %w", err)
	}
	return user, nil
}

// GetUserByID returns a live account by ID.
func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1 AND soft_deleted_at IS NULL
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("user not found", err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateProfile persists the mutable profile fields.
func (r *Repository) UpdateProfile(ctx context.Context, user *models.User) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET display_name = $2, phone = $3, avatar_url = $4,
		    saved_locations = $5, updated_at = NOW()
		WHERE id = $1 AND soft_deleted_at IS NULL
	`, user.ID, user.DisplayName, user.Phone, user.AvatarURL, user.SavedLocations)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *Repository) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = NOW()
		WHERE id = $1 AND soft_deleted_at IS NULL
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("user not found", common.ErrNotFound)
	}
	return nil
}

// SetEmailVerified flags the account's email as verified.
func (r *Repository) SetEmailVerified(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users SET email_verified = TRUE, updated_at = NOW()
		WHERE id = $1 AND soft_deleted_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to set email verified: %w", err)
	}
	return nil
}

// SoftDeleteUser marks the account deleted. The row stays for ledger and
// booking history integrity.
func (r *Repository) SoftDeleteUser(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET soft_deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND soft_deleted_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("user not found", common.ErrNotFound)
	}
	return nil
}

// CreateRefreshToken stores a refresh token hash.
func (r *Repository) CreateRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
	`, userID, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken looks a refresh token up by its hash.
func (r *Repository) GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshRecord, error) {
	record := &RefreshRecord{}
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, revoked_at, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&record.ID,
		&record.UserID,
		&record.TokenHash,
		&record.ExpiresAt,
		&record.RevokedAt,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("refresh token not found", err)
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return record, nil
}

// RevokeRefreshToken revokes a single token.
func (r *Repository) RevokeRefreshToken(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllRefreshTokens revokes every live token a user holds.
func (r *Repository) RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return nil
}

// CreateOTP stores a one-time code hash, superseding earlier live codes for
// the same purpose.
func (r *Repository) CreateOTP(ctx context.Context, userID uuid.UUID, codeHash string, purpose OTPPurpose, expiresAt time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE email_otps SET consumed_at = NOW()
		WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL
	`, userID, purpose)
	if err != nil {
		return fmt.Errorf("failed to supersede codes: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO email_otps (user_id, code_hash, purpose, expires_at)
		VALUES ($1, $2, $3, $4)
	`, userID, codeHash, purpose, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store code: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit code: %w", err)
	}
	return nil
}

// GetActiveOTP returns the user's live code for a purpose, if any.
func (r *Repository) GetActiveOTP(ctx context.Context, userID uuid.UUID, purpose OTPPurpose) (*OTPRecord, error) {
	record := &OTPRecord{}
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, code_hash, purpose, attempts, expires_at, consumed_at, created_at
		FROM email_otps
		WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, purpose).Scan(
		&record.ID,
		&record.UserID,
		&record.CodeHash,
		&record.Purpose,
		&record.Attempts,
		&record.ExpiresAt,
		&record.ConsumedAt,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("no active code", err)
		}
		return nil, fmt.Errorf("failed to get code: %w", err)
	}
	return record, nil
}

// IncrementOTPAttempts bumps the failed attempt counter.
func (r *Repository) IncrementOTPAttempts(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE email_otps SET attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	return nil
}

// ConsumeOTP burns a code after successful use.
func (r *Repository) ConsumeOTP(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE email_otps SET consumed_at = NOW() WHERE id = $1 AND consumed_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to consume code: %w", err)
	}
	return nil
}

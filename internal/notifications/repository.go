package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/models"
)

// Repository persists notifications. The rating-prompt dedupe lives in a
// partial unique index; a conflicting insert is reported, not an error.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new notifications repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a notification. Returns false when the rating dedupe index
// swallowed the row.
func (r *Repository) Create(ctx context.Context, notification *models.Notification) (bool, error) {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	payloadJSON, err := json.Marshal(notification.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO notifications (id, user_id, kind, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, notification.ID, notification.UserID, notification.Kind, payloadJSON)
	if err != nil {
		return false, fmt.Errorf("failed to create notification: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByUser returns a user's notifications, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*models.Notification, int64, error) {
	where := "user_id = $1"
	if unreadOnly {
		where += " AND NOT is_read"
	}

	var total int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM notifications WHERE "+where, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, kind, payload, is_read, created_at
		FROM notifications
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*models.Notification{}
	for rows.Next() {
		n := &models.Notification{}
		var payloadJSON []byte
		err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &payloadJSON, &n.IsRead, &n.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &n.Payload); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal notification payload: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, total, nil
}

// MarkRead marks a single notification read, scoped to its owner.
func (r *Repository) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("notification not found", pgx.ErrNoRows)
	}
	return nil
}

// MarkAllRead marks every unread notification read and returns how many.
func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE user_id = $1 AND NOT is_read
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountUnread returns the user's unread notification count.
func (r *Repository) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read",
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// GetRecipient resolves the email address for outbound delivery.
func (r *Repository) GetRecipient(ctx context.Context, userID uuid.UUID) (string, string, error) {
	var email, name string
	err := r.db.QueryRow(ctx, `
		SELECT email, display_name FROM users
		WHERE id = $1 AND soft_deleted_at IS NULL
	`, userID).Scan(&email, &name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", common.NewNotFoundError("user not found", err)
		}
		return "", "", fmt.Errorf("failed to get recipient: %w", err)
	}
	return email, name, nil
}

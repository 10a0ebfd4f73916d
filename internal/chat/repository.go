package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroride/carpool/pkg/models"
)

// Repository persists chat messages between booking participants.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new chat repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const messageColumns = `
	id, booking_id, sender_id, receiver_id, body, is_read, created_at
`

func scanMessage(row pgx.Row) (*models.Message, error) {
	message := &models.Message{}
	err := row.Scan(
		&message.ID,
		&message.BookingID,
		&message.SenderID,
		&message.ReceiverID,
		&message.Body,
		&message.IsRead,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return message, nil
}

// Create inserts a message.
func (r *Repository) Create(ctx context.Context, message *models.Message) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO messages (booking_id, sender_id, receiver_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, is_read, created_at
	`, message.BookingID, message.SenderID, message.ReceiverID, message.Body,
	).Scan(&message.ID, &message.IsRead, &message.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListByBooking returns a booking's messages oldest first.
func (r *Repository) ListByBooking(ctx context.Context, bookingID uuid.UUID, limit, offset int) ([]*models.Message, int64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE booking_id = $1`, bookingID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE booking_id = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, bookingID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, total, nil
}

// MarkReadForUser marks every message addressed to the user in this booking
// as read and returns how many flipped.
func (r *Repository) MarkReadForUser(ctx context.Context, bookingID, receiverID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE
		WHERE booking_id = $1 AND receiver_id = $2 AND NOT is_read
	`, bookingID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountUnread returns the user's unread message count across all bookings.
func (r *Repository) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND NOT is_read
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

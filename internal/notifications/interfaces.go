package notifications

import (
	"context"

	"github.com/google/uuid"

	"github.com/aeroride/carpool/pkg/models"
)

// RepositoryInterface is the notification persistence surface. Create reports
// whether a row was actually inserted; rating prompts dedupe per booking.
type RepositoryInterface interface {
	Create(ctx context.Context, notification *models.Notification) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*models.Notification, int64, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int64, error)
	GetRecipient(ctx context.Context, userID uuid.UUID) (email, name string, err error)
}

// EmailSender delivers transactional email. Implemented by the SMTP client.
type EmailSender interface {
	SendNotificationEmail(to, name, subject, body string) error
}

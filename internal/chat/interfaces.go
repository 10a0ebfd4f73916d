package chat

import (
	"context"

	"github.com/google/uuid"

	"github.com/aeroride/carpool/pkg/models"
)

// RepositoryInterface is the chat persistence surface.
type RepositoryInterface interface {
	Create(ctx context.Context, message *models.Message) error
	ListByBooking(ctx context.Context, bookingID uuid.UUID, limit, offset int) ([]*models.Message, int64, error)
	MarkReadForUser(ctx context.Context, bookingID, receiverID uuid.UUID) (int64, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int64, error)
}

// BookingReader resolves bookings for participant checks.
type BookingReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
}

// RideReader resolves the ride behind a booking.
type RideReader interface {
	GetRideByID(ctx context.Context, id uuid.UUID) (*models.Ride, error)
}

// Notifier delivers in-app notifications. Failures are logged, never
// propagated.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind models.NotificationKind, payload models.NotificationPayload)
}

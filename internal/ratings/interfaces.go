package ratings

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aeroride/carpool/pkg/models"
)

// RepositoryInterface is the rating persistence surface. Create also folds the
// new stars into the target user's aggregate, in one transaction.
type RepositoryInterface interface {
	Create(ctx context.Context, rating *models.Rating) error
	HasRated(ctx context.Context, bookingID, fromUserID uuid.UUID) (bool, error)
	ListForUser(ctx context.Context, toUserID uuid.UUID, limit, offset int) ([]*models.Rating, int64, error)
	Stats(ctx context.Context, userID uuid.UUID) (*models.RatingStats, error)
	ListUnratedBookings(ctx context.Context, userID uuid.UUID, departedBefore time.Time, limit int) ([]*models.Booking, error)
}

// BookingReader resolves bookings for eligibility checks.
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

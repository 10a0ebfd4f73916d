package bookings

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aeroride/carpool/internal/payments"
	"github.com/aeroride/carpool/pkg/models"
)

// RepositoryInterface is the booking persistence surface. Tx variants run
// inside an engine-owned transaction together with capacity and ledger
// writes.
type RepositoryInterface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByRideAndPassenger(ctx context.Context, rideID, passengerID uuid.UUID) (*models.Booking, error)
	GetByIntentID(ctx context.Context, intentID string) (*models.Booking, error)
	ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*models.Booking, int64, error)
	ListByRide(ctx context.Context, rideID uuid.UUID) ([]*models.Booking, error)
	ListActiveByRideTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID) ([]*models.Booking, error)
	UpdatePending(ctx context.Context, booking *models.Booking) error
	TransitionTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, from, to models.BookingStatus) error
	CreateTx(ctx context.Context, tx pgx.Tx, booking *models.Booking) error
	SetPaidTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, amount int64, method models.PaymentMethod, intentID *string) error
	MarkRefundedTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, refundID *string, reason models.RefundReason) error
	CancelRideTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID) error
	GetRideForUpdateTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID) (*models.Ride, error)
}

// CapacityStore moves ride capacity inside an engine-owned transaction. The
// rides repository implements it with conditional updates.
type CapacityStore interface {
	ReserveTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID, seats, luggage int) error
	ReleaseTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID, seats, luggage int) error
}

// LedgerStore writes wallet ledger entries. ApplyLedger joins the engine's
// transaction; Append runs standalone for post-commit compensations.
type LedgerStore interface {
	ApplyLedger(ctx context.Context, tx pgx.Tx, txn *models.Transaction) error
	Append(ctx context.Context, txn *models.Transaction) error
	GetEarningByReference(ctx context.Context, refKind models.ReferenceKind, refID uuid.UUID) (*models.Transaction, error)
}

// PaymentGateway is the slice of the payment gateway the engine needs.
type PaymentGateway interface {
	GetIntent(ctx context.Context, intentID string) (*payments.Intent, error)
	Refund(ctx context.Context, intentID string, reverseTransfer, refundApplicationFee bool) (*payments.RefundResult, error)
}

// RideReader resolves rides outside engine transactions.
type RideReader interface {
	GetRideByID(ctx context.Context, id uuid.UUID) (*models.Ride, error)
}

// Notifier delivers in-app notifications. Failures are logged, never
// propagated.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind models.NotificationKind, payload models.NotificationPayload)
}

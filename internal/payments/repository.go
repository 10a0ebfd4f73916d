package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/models"
)

// Repository persists webhook dedupe state and the few lookups the
// reconciler needs outside the wallet ledger.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new payments repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// MarkEventProcessed records a webhook event id and reports whether this call
// was the first to see it. A false return means the event was already
// processed and must be skipped.
func (r *Repository) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO webhook_events (id, type) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClearEvent removes a webhook event id so the PSP's redelivery is processed
// again. Called when a handler failed after the id was recorded.
func (r *Repository) ClearEvent(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM webhook_events WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("failed to clear webhook event: %w", err)
	}
	return nil
}

// GetBookingByIntentID resolves the booking a payment intent was created for.
func (r *Repository) GetBookingByIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	booking := &models.Booking{}
	err := r.db.QueryRow(ctx, `
		SELECT id, ride_id, passenger_id, seats, luggage, status,
		       amount_paid, payment_status, payment_method, psp_intent_id,
		       refund_id, refunded_at, refund_reason, created_at, updated_at
		FROM bookings
		WHERE psp_intent_id = $1
	`, intentID).Scan(
		&booking.ID,
		&booking.RideID,
		&booking.PassengerID,
		&booking.Seats,
		&booking.Luggage,
		&booking.Status,
		&booking.AmountPaid,
		&booking.PaymentStatus,
		&booking.PaymentMethod,
		&booking.PSPIntentID,
		&booking.RefundID,
		&booking.RefundedAt,
		&booking.RefundReason,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("booking not found for payment intent", err)
		}
		return nil, fmt.Errorf("failed to get booking by intent: %w", err)
	}
	return booking, nil
}

// SetBookingPaymentFailed marks the payment state on the booking tied to a
// failed intent. Bookings already paid are left untouched.
func (r *Repository) SetBookingPaymentFailed(ctx context.Context, intentID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE bookings
		SET payment_status = 'failed', updated_at = NOW()
		WHERE psp_intent_id = $1 AND payment_status = 'unpaid'
	`, intentID)
	if err != nil {
		return fmt.Errorf("failed to mark booking payment failed: %w", err)
	}
	return nil
}

// GetRideDriver returns the driver id of a ride.
func (r *Repository) GetRideDriver(ctx context.Context, rideID uuid.UUID) (uuid.UUID, error) {
	var driverID uuid.UUID
	err := r.db.QueryRow(ctx, `
		SELECT driver_id FROM rides WHERE id = $1
	`, rideID).Scan(&driverID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, common.NewNotFoundError("ride not found", err)
		}
		return uuid.Nil, fmt.Errorf("failed to get ride driver: %w", err)
	}
	return driverID, nil
}

// SetUserPayoutAccount syncs the payouts_enabled flag from an account.updated
// event, keyed by the connected account id.
func (r *Repository) SetUserPayoutAccount(ctx context.Context, accountID string, enabled bool) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET payouts_enabled = $2, updated_at = NOW()
		WHERE stripe_account_id = $1
	`, accountID, enabled)
	if err != nil {
		return fmt.Errorf("failed to sync payout account: %w", err)
	}
	return nil
}

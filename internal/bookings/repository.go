package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/models"
)

// Repository persists bookings. The state machine guards live in the SQL:
// every transition names its expected source status in the WHERE clause.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new bookings repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Begin starts an engine-owned transaction.
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const bookingColumns = `
	id, ride_id, passenger_id, seats, luggage, status, pickup, dropoff,
	amount_paid, payment_status, payment_method, psp_intent_id,
	refund_id, refunded_at, refund_reason, created_at, updated_at
`

func scanBooking(row pgx.Row) (*models.Booking, error) {
	booking := &models.Booking{}
	var pickupJSON, dropoffJSON []byte

	err := row.Scan(
		&booking.ID,
		&booking.RideID,
		&booking.PassengerID,
		&booking.Seats,
		&booking.Luggage,
		&booking.Status,
		&pickupJSON,
		&dropoffJSON,
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
		return nil, err
	}

	if len(pickupJSON) > 0 {
		if err := json.Unmarshal(pickupJSON, &booking.Pickup); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pickup: %w", err)
		}
	}
	if len(dropoffJSON) > 0 {
		if err := json.Unmarshal(dropoffJSON, &booking.Dropoff); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dropoff: %w", err)
		}
	}
	return booking, nil
}

func insertBooking(ctx context.Context, q rowQuerier, booking *models.Booking) error {
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	if booking.Status == "" {
		booking.Status = models.BookingStatusPending
	}
	if booking.PaymentStatus == "" {
		booking.PaymentStatus = models.PaymentStatusUnpaid
	}
	if booking.PaymentMethod == "" {
		booking.PaymentMethod = models.PaymentMethodNone
	}

	pickupJSON, err := marshalStop(booking.Pickup)
	if err != nil {
		return err
	}
	dropoffJSON, err := marshalStop(booking.Dropoff)
	if err != nil {
		return err
	}

	err = q.QueryRow(ctx, `
		INSERT INTO bookings (
			id, ride_id, passenger_id, seats, luggage, status, pickup, dropoff,
			amount_paid, payment_status, payment_method, psp_intent_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`,
		booking.ID, booking.RideID, booking.PassengerID, booking.Seats,
		booking.Luggage, booking.Status, pickupJSON, dropoffJSON,
		booking.AmountPaid, booking.PaymentStatus, booking.PaymentMethod,
		booking.PSPIntentID,
	).Scan(&booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return common.NewConflictError("you already have a booking on this ride")
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func marshalStop(stop *models.StopPoint) ([]byte, error) {
	if stop == nil {
		return nil, nil
	}
	data, err := json.Marshal(stop)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stop point: %w", err)
	}
	return data, nil
}

// Create inserts a pending booking.
func (r *Repository) Create(ctx context.Context, booking *models.Booking) error {
	return insertBooking(ctx, r.db, booking)
}

// CreateTx inserts a booking inside the caller's transaction.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, booking *models.Booking) error {
	return insertBooking(ctx, tx, booking)
}

// GetByID returns a booking with its ride attached.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	booking, err := scanBooking(r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("booking not found", err)
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// GetByRideAndPassenger returns the unique booking on a (ride, passenger)
// pair, or a not found error.
func (r *Repository) GetByRideAndPassenger(ctx context.Context, rideID, passengerID uuid.UUID) (*models.Booking, error) {
	booking, err := scanBooking(r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE ride_id = $1 AND passenger_id = $2
	`, rideID, passengerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("booking not found", err)
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// GetByIntentID resolves a booking by its payment intent.
func (r *Repository) GetByIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	booking, err := scanBooking(r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE psp_intent_id = $1
	`, intentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("booking not found", err)
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// ListByPassenger returns the passenger's bookings, newest first.
func (r *Repository) ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*models.Booking, int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM bookings WHERE passenger_id = $1", passengerID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE passenger_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, passengerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	bookings, err := collectBookings(rows)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// ListByRide returns all bookings on a ride with passenger profiles.
func (r *Repository) ListByRide(ctx context.Context, rideID uuid.UUID) ([]*models.Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT b.id, b.ride_id, b.passenger_id, b.seats, b.luggage, b.status,
		       b.pickup, b.dropoff, b.amount_paid, b.payment_status,
		       b.payment_method, b.psp_intent_id, b.refund_id, b.refunded_at,
		       b.refund_reason, b.created_at, b.updated_at,
		       u.display_name, u.avatar_url, u.rating_mean, u.rating_count
		FROM bookings b
		JOIN users u ON u.id = b.passenger_id
		WHERE b.ride_id = $1
		ORDER BY b.created_at
	`, rideID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ride bookings: %w", err)
	}
	defer rows.Close()

	bookings := []*models.Booking{}
	for rows.Next() {
		booking := &models.Booking{}
		passenger := &models.PublicUser{}
		var pickupJSON, dropoffJSON []byte

		err := rows.Scan(
			&booking.ID, &booking.RideID, &booking.PassengerID, &booking.Seats,
			&booking.Luggage, &booking.Status, &pickupJSON, &dropoffJSON,
			&booking.AmountPaid, &booking.PaymentStatus, &booking.PaymentMethod,
			&booking.PSPIntentID, &booking.RefundID, &booking.RefundedAt,
			&booking.RefundReason, &booking.CreatedAt, &booking.UpdatedAt,
			&passenger.DisplayName, &passenger.AvatarURL,
			&passenger.RatingMean, &passenger.RatingCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		if len(pickupJSON) > 0 {
			if err := json.Unmarshal(pickupJSON, &booking.Pickup); err != nil {
				return nil, fmt.Errorf("failed to unmarshal pickup: %w", err)
			}
		}
		if len(dropoffJSON) > 0 {
			if err := json.Unmarshal(dropoffJSON, &booking.Dropoff); err != nil {
				return nil, fmt.Errorf("failed to unmarshal dropoff: %w", err)
			}
		}
		passenger.ID = booking.PassengerID
		booking.Passenger = passenger
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

// ListActiveByRideTx returns pending and accepted bookings locked for the
// duration of a ride cancellation.
func (r *Repository) ListActiveByRideTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID) ([]*models.Booking, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE ride_id = $1 AND status IN ('pending', 'accepted')
		FOR UPDATE
	`, rideID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active bookings: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

func collectBookings(rows pgx.Rows) ([]*models.Booking, error) {
	bookings := []*models.Booking{}
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

// TransitionTx moves a booking between states. The source status in the WHERE
// clause is the state machine guard; zero rows means an illegal transition.
func (r *Repository) TransitionTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, from, to models.BookingStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, bookingID, from, to)
	if err != nil {
		return fmt.Errorf("failed to transition booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewStateError(fmt.Sprintf("booking is not %s", from))
	}
	return nil
}

// UpdatePending rewrites seats, luggage and stops on a booking that is still
// pending. The status guard keeps the update from racing a driver acceptance.
func (r *Repository) UpdatePending(ctx context.Context, booking *models.Booking) error {
	pickupJSON, err := marshalStop(booking.Pickup)
	if err != nil {
		return err
	}
	dropoffJSON, err := marshalStop(booking.Dropoff)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE bookings
		SET seats = $2, luggage = $3, pickup = $4, dropoff = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, booking.ID, booking.Seats, booking.Luggage, pickupJSON, dropoffJSON)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewStateError("booking is not pending")
	}
	return nil
}

// SetPaidTx records a settled payment on a booking.
func (r *Repository) SetPaidTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, amount int64, method models.PaymentMethod, intentID *string) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings
		SET amount_paid = $2,
		    payment_status = 'paid',
		    payment_method = $3,
		    psp_intent_id = COALESCE($4, psp_intent_id),
		    updated_at = NOW()
		WHERE id = $1
	`, bookingID, amount, method, intentID)
	if err != nil {
		return fmt.Errorf("failed to mark booking paid: %w", err)
	}
	return nil
}

// MarkRefundedTx records refund state on a booking.
func (r *Repository) MarkRefundedTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, refundID *string, reason models.RefundReason) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings
		SET payment_status = 'refunded',
		    refund_id = COALESCE($2, refund_id),
		    refunded_at = NOW(),
		    refund_reason = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, bookingID, refundID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark booking refunded: %w", err)
	}
	return nil
}

// CancelRideTx cancels a ride inside the cascade transaction.
func (r *Repository) CancelRideTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE rides
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, rideID)
	if err != nil {
		return fmt.Errorf("failed to cancel ride: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewStateError("ride is not active")
	}
	return nil
}

// GetRideForUpdateTx locks a ride row for the duration of a cascade.
func (r *Repository) GetRideForUpdateTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID) (*models.Ride, error) {
	ride := &models.Ride{}
	err := tx.QueryRow(ctx, `
		SELECT id, driver_id, airport_id, direction, departure_at,
		       seats_total, seats_left, luggage_total, luggage_left,
		       price_per_seat, currency, status
		FROM rides
		WHERE id = $1
		FOR UPDATE
	`, rideID).Scan(
		&ride.ID, &ride.DriverID, &ride.AirportID, &ride.Direction,
		&ride.DepartureAt, &ride.SeatsTotal, &ride.SeatsLeft,
		&ride.LuggageTotal, &ride.LuggageLeft, &ride.PricePerSeat,
		&ride.Currency, &ride.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("ride not found", err)
		}
		return nil, fmt.Errorf("failed to lock ride: %w", err)
	}
	return ride, nil
}

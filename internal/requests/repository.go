package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/geo"
	"github.com/aeroride/carpool/pkg/models"
)

// Repository persists broadcast requests and driver offers. The pending
// uniqueness of offers is a partial unique index; acceptance flips request and
// offers in one transaction.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new requests repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Begin starts an engine-owned transaction.
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

const requestColumns = `
	id, passenger_id, airport_id, direction, location, preferred_at,
	flexibility_minutes, seats_needed, luggage, max_price_per_seat, notes,
	status, matched_driver_id, matched_ride_id, payment_status, expires_at,
	created_at, updated_at
`

func scanRequest(row pgx.Row) (*models.RideRequest, error) {
	req := &models.RideRequest{}
	var locationJSON []byte

	err := row.Scan(
		&req.ID,
		&req.PassengerID,
		&req.AirportID,
		&req.Direction,
		&locationJSON,
		&req.PreferredAt,
		&req.FlexibilityMin,
		&req.SeatsNeeded,
		&req.Luggage,
		&req.MaxPricePerSeat,
		&req.Notes,
		&req.Status,
		&req.MatchedDriverID,
		&req.MatchedRideID,
		&req.PaymentStatus,
		&req.ExpiresAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(locationJSON, &req.Location); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request location: %w", err)
	}
	return req, nil
}

// CreateRequest inserts a pending request with its pickup location cell.
func (r *Repository) CreateRequest(ctx context.Context, req *models.RideRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	if req.PaymentStatus == "" {
		req.PaymentStatus = models.PaymentStatusUnpaid
	}

	locationJSON, err := json.Marshal(req.Location)
	if err != nil {
		return fmt.Errorf("failed to marshal request location: %w", err)
	}
	cell := geo.CellForPoint(req.Location.Lat, req.Location.Lon)

	err = r.db.QueryRow(ctx, `
		INSERT INTO ride_requests (
			id, passenger_id, airport_id, direction, location, location_cell,
			preferred_at, flexibility_minutes, seats_needed, luggage,
			max_price_per_seat, notes, status, payment_status, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`,
		req.ID, req.PassengerID, req.AirportID, req.Direction, locationJSON,
		cell, req.PreferredAt, req.FlexibilityMin, req.SeatsNeeded, req.Luggage,
		req.MaxPricePerSeat, req.Notes, req.Status, req.PaymentStatus,
		req.ExpiresAt,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

// GetRequestByID returns a request with its offers and their driver profiles.
func (r *Repository) GetRequestByID(ctx context.Context, id uuid.UUID) (*models.RideRequest, error) {
	req, err := scanRequest(r.db.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM ride_requests WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("request not found", err)
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	offers, err := r.ListOffersByRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Offers = offers
	return req, nil
}

// ListByPassenger returns the passenger's requests, newest first.
func (r *Repository) ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*models.RideRequest, int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM ride_requests WHERE passenger_id = $1", passengerID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+requestColumns+` FROM ride_requests
		WHERE passenger_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, passengerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	requests, err := collectRequests(rows)
	if err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// Search returns pending, unexpired requests matching the driver's filters,
// annotated with whether the driver already has a pending offer on each.
func (r *Repository) Search(ctx context.Context, query *models.RequestSearchQuery, cells []int64, driverID uuid.UUID, limit, offset int) ([]*models.RideRequest, int64, error) {
	where := []string{"r.status = 'pending'", "r.expires_at > NOW()"}
	args := []any{driverID}
	argPos := 2

	if query.AirportID != nil {
		where = append(where, fmt.Sprintf("r.airport_id = $%d", argPos))
		args = append(args, *query.AirportID)
		argPos++
	}
	if query.Direction != nil {
		where = append(where, fmt.Sprintf("r.direction = $%d", argPos))
		args = append(args, *query.Direction)
		argPos++
	}
	if query.Date != nil {
		day := query.Date.UTC().Truncate(24 * time.Hour)
		where = append(where, fmt.Sprintf("r.preferred_at >= $%d AND r.preferred_at < $%d", argPos, argPos+1))
		args = append(args, day, day.Add(24*time.Hour))
		argPos += 2
	}
	if query.City != "" {
		where = append(where, fmt.Sprintf("r.location->>'city' ILIKE $%d", argPos))
		args = append(args, "%"+query.City+"%")
		argPos++
	}
	if len(cells) > 0 {
		where = append(where, fmt.Sprintf("r.location_cell = ANY($%d)", argPos))
		args = append(args, cells)
		argPos++
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM ride_requests r WHERE "+whereClause, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	sql := fmt.Sprintf(`
		SELECT r.id, r.passenger_id, r.airport_id, r.direction, r.location,
		       r.preferred_at, r.flexibility_minutes, r.seats_needed, r.luggage,
		       r.max_price_per_seat, r.notes, r.status, r.matched_driver_id,
		       r.matched_ride_id, r.payment_status, r.expires_at,
		       r.created_at, r.updated_at,
		       u.display_name, u.avatar_url, u.rating_mean, u.rating_count,
		       EXISTS (
		           SELECT 1 FROM ride_offers o
		           WHERE o.request_id = r.id AND o.driver_id = $1 AND o.status = 'pending'
		       ) AS has_user_offered
		FROM ride_requests r
		JOIN users u ON u.id = r.passenger_id
		WHERE %s
		ORDER BY r.preferred_at
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search requests: %w", err)
	}
	defer rows.Close()

	requests := []*models.RideRequest{}
	for rows.Next() {
		req := &models.RideRequest{}
		passenger := &models.PublicUser{}
		var locationJSON []byte

		err := rows.Scan(
			&req.ID, &req.PassengerID, &req.AirportID, &req.Direction,
			&locationJSON, &req.PreferredAt, &req.FlexibilityMin,
			&req.SeatsNeeded, &req.Luggage, &req.MaxPricePerSeat, &req.Notes,
			&req.Status, &req.MatchedDriverID, &req.MatchedRideID,
			&req.PaymentStatus, &req.ExpiresAt, &req.CreatedAt, &req.UpdatedAt,
			&passenger.DisplayName, &passenger.AvatarURL,
			&passenger.RatingMean, &passenger.RatingCount,
			&req.HasUserOffered,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan request: %w", err)
		}
		if err := json.Unmarshal(locationJSON, &req.Location); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal request location: %w", err)
		}
		passenger.ID = req.PassengerID
		req.Passenger = passenger
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate requests: %w", err)
	}
	return requests, total, nil
}

// UpdateRequestStatus moves a request between states with a source guard.
func (r *Repository) UpdateRequestStatus(ctx context.Context, id uuid.UUID, from, to models.RequestStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE ride_requests
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewStateError(fmt.Sprintf("request is not %s", from))
	}
	return nil
}

// ExpirePending marks overdue pending requests expired and returns how many.
func (r *Repository) ExpirePending(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE ride_requests
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to expire requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

const offerColumns = `
	id, request_id, driver_id, ride_id, price_per_seat, message, status,
	created_at, updated_at
`

func scanOffer(row pgx.Row) (*models.Offer, error) {
	offer := &models.Offer{}
	err := row.Scan(
		&offer.ID,
		&offer.RequestID,
		&offer.DriverID,
		&offer.RideID,
		&offer.PricePerSeat,
		&offer.Message,
		&offer.Status,
		&offer.CreatedAt,
		&offer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// CreateOffer inserts a pending offer. The partial unique index rejects a
// second pending offer from the same driver.
func (r *Repository) CreateOffer(ctx context.Context, offer *models.Offer) error {
	if offer.ID == uuid.Nil {
		offer.ID = uuid.New()
	}
	if offer.Status == "" {
		offer.Status = models.OfferStatusPending
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO ride_offers (id, request_id, driver_id, ride_id, price_per_seat, message, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`,
		offer.ID, offer.RequestID, offer.DriverID, offer.RideID,
		offer.PricePerSeat, offer.Message, offer.Status,
	).Scan(&offer.CreatedAt, &offer.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return common.NewConflictError("you already have a pending offer on this request")
		}
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

// GetOfferByID returns a single offer.
func (r *Repository) GetOfferByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	offer, err := scanOffer(r.db.QueryRow(ctx, `
		SELECT `+offerColumns+` FROM ride_offers WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("offer not found", err)
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return offer, nil
}

// GetPendingOfferByRequestAndDriver returns the driver's open offer on a
// request. The partial unique index guarantees at most one.
func (r *Repository) GetPendingOfferByRequestAndDriver(ctx context.Context, requestID, driverID uuid.UUID) (*models.Offer, error) {
	offer, err := scanOffer(r.db.QueryRow(ctx, `
		SELECT `+offerColumns+` FROM ride_offers
		WHERE request_id = $1 AND driver_id = $2 AND status = 'pending'
	`, requestID, driverID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("no pending offer on this request", err)
		}
		return nil, fmt.Errorf("failed to get pending offer: %w", err)
	}
	return offer, nil
}

// ListOffersByRequest returns all offers on a request with driver profiles.
func (r *Repository) ListOffersByRequest(ctx context.Context, requestID uuid.UUID) ([]models.Offer, error) {
	rows, err := r.db.Query(ctx, `
		SELECT o.id, o.request_id, o.driver_id, o.ride_id, o.price_per_seat,
		       o.message, o.status, o.created_at, o.updated_at,
		       u.display_name, u.avatar_url, u.rating_mean, u.rating_count
		FROM ride_offers o
		JOIN users u ON u.id = o.driver_id
		WHERE o.request_id = $1
		ORDER BY o.created_at
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	offers := []models.Offer{}
	for rows.Next() {
		offer := models.Offer{}
		driver := &models.PublicUser{}
		err := rows.Scan(
			&offer.ID, &offer.RequestID, &offer.DriverID, &offer.RideID,
			&offer.PricePerSeat, &offer.Message, &offer.Status,
			&offer.CreatedAt, &offer.UpdatedAt,
			&driver.DisplayName, &driver.AvatarURL,
			&driver.RatingMean, &driver.RatingCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		driver.ID = offer.DriverID
		offer.Driver = driver
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate offers: %w", err)
	}
	return offers, nil
}

// ListOffersByDriver returns the driver's offers, newest first.
func (r *Repository) ListOffersByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Offer, int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM ride_offers WHERE driver_id = $1", driverID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count offers: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+offerColumns+` FROM ride_offers
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, driverID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	offers := []*models.Offer{}
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate offers: %w", err)
	}
	return offers, total, nil
}

// UpdateOfferStatus moves an offer between states with a source guard.
func (r *Repository) UpdateOfferStatus(ctx context.Context, id uuid.UUID, from, to models.OfferStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE ride_offers
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to update offer status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewStateError(fmt.Sprintf("offer is not %s", from))
	}
	return nil
}

// AcceptOfferTx flips the chosen offer accepted, rejects its pending
// siblings and marks the request accepted and paid, all guarded on pending
// source states.
func (r *Repository) AcceptOfferTx(ctx context.Context, tx pgx.Tx, request *models.RideRequest, offer *models.Offer) error {
	tag, err := tx.Exec(ctx, `
		UPDATE ride_offers
		SET status = 'accepted', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, offer.ID)
	if err != nil {
		return fmt.Errorf("failed to accept offer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewStateError("offer is not pending")
	}

	_, err = tx.Exec(ctx, `
		UPDATE ride_offers
		SET status = 'rejected', updated_at = NOW()
		WHERE request_id = $1 AND id <> $2 AND status = 'pending'
	`, request.ID, offer.ID)
	if err != nil {
		return fmt.Errorf("failed to reject sibling offers: %w", err)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE ride_requests
		SET status = 'accepted',
		    matched_driver_id = $2,
		    matched_ride_id = $3,
		    payment_status = 'paid',
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, request.ID, offer.DriverID, offer.RideID)
	if err != nil {
		return fmt.Errorf("failed to accept request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewStateError("request is not pending")
	}
	return nil
}

func collectRequests(rows pgx.Rows) ([]*models.RideRequest, error) {
	requests := []*models.RideRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate requests: %w", err)
	}
	return requests, nil
}

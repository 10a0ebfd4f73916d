package rides

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/database"
	"github.com/aeroride/carpool/pkg/geo"
	"github.com/aeroride/carpool/pkg/models"
)

// Repository persists rides. Capacity counters only move through the
// conditional reserve/release statements so concurrent bookings can never
// oversell a ride.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new rides repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ReserveCapacityTx atomically claims seats and luggage slots inside the
// caller's transaction. The WHERE clause is the capacity check; zero rows
// means the ride is full, inactive or gone.
func ReserveCapacityTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID, seats, luggage int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE rides
		SET seats_left = seats_left - $2,
		    luggage_left = luggage_left - $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'active'
		  AND seats_left >= $2
		  AND luggage_left >= $3
	`, rideID, seats, luggage)
	if err != nil {
		return fmt.Errorf("failed to reserve capacity: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return diagnoseReservationFailure(ctx, tx, rideID, seats, luggage)
}

// diagnoseReservationFailure reads the ride to report which constraint
// rejected the reservation.
func diagnoseReservationFailure(ctx context.Context, tx pgx.Tx, rideID uuid.UUID, seats, luggage int) error {
	var status models.RideStatus
	var seatsLeft, luggageLeft int
	err := tx.QueryRow(ctx, `
		SELECT status, seats_left, luggage_left FROM rides WHERE id = $1
	`, rideID).Scan(&status, &seatsLeft, &luggageLeft)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.NewNotFoundError("ride not found", err)
		}
		return fmt.Errorf("failed to inspect ride: %w", err)
	}

	if status != models.RideStatusActive {
		return common.NewStateError("ride is no longer active")
	}
	if seatsLeft < seats {
		return common.NewCapacityError(common.CodeInsufficientSeats,
			fmt.Sprintf("only %d seats left", seatsLeft), common.ErrInsufficientSeats)
	}
	return common.NewCapacityError(common.CodeInsufficientLuggage,
		fmt.Sprintf("only %d luggage slots left", luggageLeft), common.ErrInsufficientLuggage)
}

// ReleaseCapacityTx returns seats and luggage slots inside the caller's
// transaction. LEAST clamps against double releases.
func ReleaseCapacityTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID, seats, luggage int) error {
	_, err := tx.Exec(ctx, `
		UPDATE rides
		SET seats_left = LEAST(seats_left + $2, seats_total),
		    luggage_left = LEAST(luggage_left + $3, luggage_total),
		    updated_at = NOW()
		WHERE id = $1
	`, rideID, seats, luggage)
	if err != nil {
		return fmt.Errorf("failed to release capacity: %w", err)
	}
	return nil
}

// ReserveTx claims capacity inside the caller's transaction.
func (r *Repository) ReserveTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID, seats, luggage int) error {
	return ReserveCapacityTx(ctx, tx, rideID, seats, luggage)
}

// ReleaseTx returns capacity inside the caller's transaction.
func (r *Repository) ReleaseTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID, seats, luggage int) error {
	return ReleaseCapacityTx(ctx, tx, rideID, seats, luggage)
}

// TryReserve claims capacity in its own transaction. Concurrent reservations
// can deadlock on the ride row; the transaction retries on those.
func (r *Repository) TryReserve(ctx context.Context, rideID uuid.UUID, seats, luggage int) error {
	return database.RetryableTransaction(ctx, r.db, func(tx pgx.Tx) error {
		return ReserveCapacityTx(ctx, tx, rideID, seats, luggage)
	})
}

// Release returns capacity in its own transaction.
func (r *Repository) Release(ctx context.Context, rideID uuid.UUID, seats, luggage int) error {
	return database.RetryableTransaction(ctx, r.db, func(tx pgx.Tx) error {
		return ReleaseCapacityTx(ctx, tx, rideID, seats, luggage)
	})
}

// Create inserts a ride with full capacity and its route covering cells.
func (r *Repository) Create(ctx context.Context, ride *models.Ride) error {
	if ride.ID == uuid.Nil {
		ride.ID = uuid.New()
	}
	homeJSON, err := json.Marshal(ride.Home)
	if err != nil {
		return fmt.Errorf("failed to marshal home location: %w", err)
	}
	routeJSON, err := json.Marshal(ride.Route)
	if err != nil {
		return fmt.Errorf("failed to marshal route: %w", err)
	}
	cells := geo.CoverRoute(ride.Route)

	err = r.db.QueryRow(ctx, `
		INSERT INTO rides (
			id, driver_id, airport_id, direction, home, departure_at,
			seats_total, seats_left, luggage_total, luggage_left,
			price_per_seat, currency, route, route_cells, status, comment
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8, $8, $9, $10, $11, $12, 'active', $13)
		RETURNING created_at, updated_at
	`,
		ride.ID, ride.DriverID, ride.AirportID, ride.Direction, homeJSON,
		ride.DepartureAt, ride.SeatsTotal, ride.LuggageTotal,
		ride.PricePerSeat, ride.Currency, routeJSON, cells, ride.Comment,
	).Scan(&ride.CreatedAt, &ride.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ride: %w", err)
	}

	ride.SeatsLeft = ride.SeatsTotal
	ride.LuggageLeft = ride.LuggageTotal
	ride.Status = models.RideStatusActive
	return nil
}

const rideColumns = `
	r.id, r.driver_id, r.airport_id, r.direction, r.home, r.departure_at,
	r.seats_total, r.seats_left, r.luggage_total, r.luggage_left,
	r.price_per_seat, r.currency, r.route, r.status, r.comment,
	r.created_at, r.updated_at,
	u.display_name, u.avatar_url, u.rating_mean, u.rating_count
`

func scanRide(row pgx.Row) (*models.Ride, error) {
	ride := &models.Ride{}
	driver := &models.PublicUser{}
	var homeJSON, routeJSON []byte

	err := row.Scan(
		&ride.ID,
		&ride.DriverID,
		&ride.AirportID,
		&ride.Direction,
		&homeJSON,
		&ride.DepartureAt,
		&ride.SeatsTotal,
		&ride.SeatsLeft,
		&ride.LuggageTotal,
		&ride.LuggageLeft,
		&ride.PricePerSeat,
		&ride.Currency,
		&routeJSON,
		&ride.Status,
		&ride.Comment,
		&ride.CreatedAt,
		&ride.UpdatedAt,
		&driver.DisplayName,
		&driver.AvatarURL,
		&driver.RatingMean,
		&driver.RatingCount,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(homeJSON, &ride.Home); err != nil {
		return nil, fmt.Errorf("failed to unmarshal home location: %w", err)
	}
	if err := json.Unmarshal(routeJSON, &ride.Route); err != nil {
		return nil, fmt.Errorf("failed to unmarshal route: %w", err)
	}

	driver.ID = ride.DriverID
	ride.Driver = driver
	return ride, nil
}

// GetByID returns a ride with its driver profile.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
	ride, err := scanRide(r.db.QueryRow(ctx, `
		SELECT `+rideColumns+`
		FROM rides r
		JOIN users u ON u.id = r.driver_id
		WHERE r.id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("ride not found", err)
		}
		return nil, fmt.Errorf("failed to get ride: %w", err)
	}
	return ride, nil
}

// Update rewrites the mutable ride fields and recomputes route cells.
func (r *Repository) Update(ctx context.Context, ride *models.Ride) error {
	routeJSON, err := json.Marshal(ride.Route)
	if err != nil {
		return fmt.Errorf("failed to marshal route: %w", err)
	}
	cells := geo.CoverRoute(ride.Route)

	tag, err := r.db.Exec(ctx, `
		UPDATE rides
		SET departure_at = $2,
		    price_per_seat = $3,
		    comment = $4,
		    seats_total = $5,
		    seats_left = $6,
		    luggage_total = $7,
		    luggage_left = $8,
		    route = $9,
		    route_cells = $10,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`,
		ride.ID, ride.DepartureAt, ride.PricePerSeat, ride.Comment,
		ride.SeatsTotal, ride.SeatsLeft, ride.LuggageTotal, ride.LuggageLeft,
		routeJSON, cells,
	)
	if err != nil {
		return fmt.Errorf("failed to update ride: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewStateError("ride is not active")
	}
	return nil
}

// Search returns active future rides matching the attribute filters. The
// optional cells prefilter matches rides whose covered route intersects the
// pickup neighbourhood; exact ordering by detour distance happens in the
// service.
func (r *Repository) Search(ctx context.Context, query *models.RideSearchQuery, cells []int64, limit, offset int) ([]*models.Ride, int64, error) {
	where := []string{"r.status = 'active'", "r.departure_at > NOW()", "r.airport_id = $1"}
	args := []any{query.AirportID}
	argPos := 2

	if query.Direction != nil {
		where = append(where, fmt.Sprintf("r.direction = $%d", argPos))
		args = append(args, *query.Direction)
		argPos++
	}
	if query.Date != nil {
		dayStart := query.Date.Truncate(24 * time.Hour)
		where = append(where, fmt.Sprintf("r.departure_at >= $%d AND r.departure_at < $%d", argPos, argPos+1))
		args = append(args, dayStart, dayStart.Add(24*time.Hour))
		argPos += 2
	}
	if query.MinSeats > 0 {
		where = append(where, fmt.Sprintf("r.seats_left >= $%d", argPos))
		args = append(args, query.MinSeats)
		argPos++
	}
	if len(cells) > 0 {
		where = append(where, fmt.Sprintf("r.route_cells && $%d", argPos))
		args = append(args, cells)
		argPos++
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM rides r WHERE "+whereClause, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count rides: %w", err)
	}

	sql := fmt.Sprintf(`
		SELECT %s
		FROM rides r
		JOIN users u ON u.id = r.driver_id
		WHERE %s
		ORDER BY r.departure_at
		LIMIT $%d OFFSET $%d
	`, rideColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, offset)

	return r.queryRides(ctx, sql, args...)
}

// ListByDriver returns the driver's own rides, newest departure first.
func (r *Repository) ListByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Ride, int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM rides WHERE driver_id = $1", driverID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count rides: %w", err)
	}

	sql := fmt.Sprintf(`
		SELECT %s
		FROM rides r
		JOIN users u ON u.id = r.driver_id
		WHERE r.driver_id = $1
		ORDER BY r.departure_at DESC
		LIMIT $2 OFFSET $3
	`, rideColumns)

	rides, _, err := r.queryRides(ctx, sql, driverID, limit, offset)
	return rides, total, err
}

// queryRides is the shared read path for search and listings; transient
// connection failures retry.
func (r *Repository) queryRides(ctx context.Context, sql string, args ...any) ([]*models.Ride, int64, error) {
	rides, err := database.RetryableQuery(ctx, r.db, sql, args, func(rows pgx.Rows) ([]*models.Ride, error) {
		out := []*models.Ride{}
		for rows.Next() {
			ride, err := scanRide(rows)
			if err != nil {
				return nil, fmt.Errorf("failed to scan ride: %w", err)
			}
			out = append(out, ride)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate rides: %w", err)
		}
		return out, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query rides: %w", err)
	}
	return rides, int64(len(rides)), nil
}

package ratings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/models"
)

// Repository persists ratings and keeps the per-user aggregate on the users
// table in step with them.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new ratings repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts the rating and folds its stars into the target user's
// rating_mean and rating_count. Both writes share one transaction so the
// aggregate can never drift from the rows it summarizes.
func (r *Repository) Create(ctx context.Context, rating *models.Rating) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO ratings (from_user_id, to_user_id, booking_id, ride_id, type, stars, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, rating.FromUserID, rating.ToUserID, rating.BookingID, rating.RideID,
		rating.Type, rating.Stars, rating.Comment,
	).Scan(&rating.ID, &rating.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return common.NewConflictError("you have already rated this booking")
		}
		return fmt.Errorf("failed to create rating: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET rating_mean = (rating_mean * rating_count + $2) / (rating_count + 1),
		    rating_count = rating_count + 1,
		    updated_at = NOW()
		WHERE id = $1
	`, rating.ToUserID, rating.Stars)
	if err != nil {
		return fmt.Errorf("failed to update rating aggregate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rating: %w", err)
	}
	return nil
}

// HasRated reports whether the author already rated this booking.
func (r *Repository) HasRated(ctx context.Context, bookingID, fromUserID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ratings WHERE booking_id = $1 AND from_user_id = $2
		)
	`, bookingID, fromUserID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check rating existence: %w", err)
	}
	return exists, nil
}

// ListForUser returns ratings received by a user, newest first, with the
// author's public profile attached.
func (r *Repository) ListForUser(ctx context.Context, toUserID uuid.UUID, limit, offset int) ([]*models.Rating, int64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM ratings WHERE to_user_id = $1`, toUserID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count ratings: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT r.id, r.from_user_id, r.to_user_id, r.booking_id, r.ride_id,
		       r.type, r.stars, r.comment, r.created_at,
		       u.display_name, u.avatar_url, u.rating_mean, u.rating_count
		FROM ratings r
		JOIN users u ON u.id = r.from_user_id
		WHERE r.to_user_id = $1
		ORDER BY r.created_at DESC
		LIMIT $2 OFFSET $3
	`, toUserID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list ratings: %w", err)
	}
	defer rows.Close()

	ratings := []*models.Rating{}
	for rows.Next() {
		rating := &models.Rating{}
		from := &models.PublicUser{}
		err := rows.Scan(
			&rating.ID,
			&rating.FromUserID,
			&rating.ToUserID,
			&rating.BookingID,
			&rating.RideID,
			&rating.Type,
			&rating.Stars,
			&rating.Comment,
			&rating.CreatedAt,
			&from.DisplayName,
			&from.AvatarURL,
			&from.RatingMean,
			&from.RatingCount,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan rating: %w", err)
		}
		from.ID = rating.FromUserID
		rating.From = from
		ratings = append(ratings, rating)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate ratings: %w", err)
	}
	return ratings, total, nil
}

// Stats aggregates a user's received ratings with a star distribution.
func (r *Repository) Stats(ctx context.Context, userID uuid.UUID) (*models.RatingStats, error) {
	stats := &models.RatingStats{
		UserID:       userID,
		Distribution: map[int]int{},
	}

	rows, err := r.db.Query(ctx, `
		SELECT stars, COUNT(*)
		FROM ratings
		WHERE to_user_id = $1
		GROUP BY stars
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ratings: %w", err)
	}
	defer rows.Close()

	var sum int
	for rows.Next() {
		var stars, count int
		if err := rows.Scan(&stars, &count); err != nil {
			return nil, fmt.Errorf("failed to scan rating aggregate: %w", err)
		}
		stats.Distribution[stars] = count
		stats.Count += count
		sum += stars * count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rating aggregates: %w", err)
	}

	if stats.Count > 0 {
		stats.Mean = float64(sum) / float64(stats.Count)
	}
	return stats, nil
}

// ListUnratedBookings returns accepted bookings the user participated in whose
// ride departed before the cutoff and which the user has not rated yet.
func (r *Repository) ListUnratedBookings(ctx context.Context, userID uuid.UUID, departedBefore time.Time, limit int) ([]*models.Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT b.id, b.ride_id, b.passenger_id, b.seats, b.status,
		       rd.driver_id, rd.departure_at
		FROM bookings b
		JOIN rides rd ON rd.id = b.ride_id
		WHERE b.status = 'accepted'
		  AND rd.departure_at <= $2
		  AND (b.passenger_id = $1 OR rd.driver_id = $1)
		  AND NOT EXISTS (
			SELECT 1 FROM ratings rt
			WHERE rt.booking_id = b.id AND rt.from_user_id = $1
		  )
		ORDER BY rd.departure_at DESC
		LIMIT $3
	`, userID, departedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unrated bookings: %w", err)
	}
	defer rows.Close()

	bookings := []*models.Booking{}
	for rows.Next() {
		booking := &models.Booking{Ride: &models.Ride{}}
		err := rows.Scan(
			&booking.ID,
			&booking.RideID,
			&booking.PassengerID,
			&booking.Seats,
			&booking.Status,
			&booking.Ride.DriverID,
			&booking.Ride.DepartureAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unrated booking: %w", err)
		}
		booking.Ride.ID = booking.RideID
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unrated bookings: %w", err)
	}
	return bookings, nil
}

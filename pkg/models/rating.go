package models

import (
	"time"

	"github.com/google/uuid"
)

// RatingType is the direction of a rating.
type RatingType string

const (
	RatingDriverToPassenger RatingType = "driver_to_passenger"
	RatingPassengerToDriver RatingType = "passenger_to_driver"
)

// Rating is a per-booking review, unique per (booking, author).
type Rating struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	FromUserID uuid.UUID  `json:"from_user_id" db:"from_user_id"`
	ToUserID   uuid.UUID  `json:"to_user_id" db:"to_user_id"`
	BookingID  uuid.UUID  `json:"booking_id" db:"booking_id"`
	RideID     uuid.UUID  `json:"ride_id" db:"ride_id"`
	Type       RatingType `json:"type" db:"type"`
	Stars      int        `json:"stars" db:"stars"`
	Comment    *string    `json:"comment,omitempty" db:"comment"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`

	From *PublicUser `json:"from,omitempty" db:"-"`
}

// SubmitRatingRequest carries a new rating.
type SubmitRatingRequest struct {
	BookingID uuid.UUID `json:"booking_id" binding:"required"`
	Stars     int       `json:"stars" binding:"required,min=1,max=5"`
	Comment   *string   `json:"comment,omitempty"`
}

// RatingStats aggregates ratings for a user.
type RatingStats struct {
	UserID       uuid.UUID   `json:"user_id"`
	Mean         float64     `json:"mean"`
	Count        int         `json:"count"`
	Distribution map[int]int `json:"distribution"`
}

// CanRateResult reports rating eligibility for a booking.
type CanRateResult struct {
	CanRate bool   `json:"can_rate"`
	Reason  string `json:"reason,omitempty"`
}

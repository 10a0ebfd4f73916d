package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// BookingEventData describes a booking lifecycle change. Amount fields are
// integer minor units. CancelledBy is set on bookings.cancelled only and
// names who pulled the plug ("passenger" or "driver").
type BookingEventData struct {
	BookingID   uuid.UUID `json:"booking_id"`
	RideID      uuid.UUID `json:"ride_id"`
	DriverID    uuid.UUID `json:"driver_id"`
	PassengerID uuid.UUID `json:"passenger_id"`
	Seats       int       `json:"seats"`
	Luggage     int       `json:"luggage"`
	Amount      int64     `json:"amount,omitempty"`
	CancelledBy string    `json:"cancelled_by,omitempty"`
	DepartureAt time.Time `json:"departure_at"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RideEventData describes a ride publish or cancellation.
type RideEventData struct {
	RideID      uuid.UUID `json:"ride_id"`
	DriverID    uuid.UUID `json:"driver_id"`
	AirportID   uuid.UUID `json:"airport_id"`
	DepartureAt time.Time `json:"departure_at"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RequestEventData describes a broadcast request lifecycle change.
type RequestEventData struct {
	RequestID       uuid.UUID  `json:"request_id"`
	PassengerID     uuid.UUID  `json:"passenger_id"`
	AirportID       uuid.UUID  `json:"airport_id"`
	MatchedDriverID *uuid.UUID `json:"matched_driver_id,omitempty"`
	SeatsNeeded     int        `json:"seats_needed"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

// OfferEventData describes a driver offer event.
type OfferEventData struct {
	OfferID      uuid.UUID `json:"offer_id"`
	RequestID    uuid.UUID `json:"request_id"`
	DriverID     uuid.UUID `json:"driver_id"`
	PassengerID  uuid.UUID `json:"passenger_id"`
	PricePerSeat int64     `json:"price_per_seat"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// PaymentEventData describes a settlement outcome.
type PaymentEventData struct {
	ReferenceID uuid.UUID `json:"reference_id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	PSPIntentID string    `json:"psp_intent_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RatingEventData describes a rating prompt or submission.
type RatingEventData struct {
	BookingID  uuid.UUID `json:"booking_id"`
	RideID     uuid.UUID `json:"ride_id"`
	FromUserID uuid.UUID `json:"from_user_id,omitempty"`
	ToUserID   uuid.UUID `json:"to_user_id"`
	Stars      int       `json:"stars,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the booking state machine position.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusAccepted  BookingStatus = "accepted"
	BookingStatusRejected  BookingStatus = "rejected"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// PaymentStatus tracks money state on a booking.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod is how a booking was paid.
type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodWallet PaymentMethod = "wallet"
	PaymentMethodNone   PaymentMethod = "none"
)

// RefundReason records why a booking was refunded.
type RefundReason string

const (
	RefundPassengerCancelled RefundReason = "passenger_cancelled"
	RefundDriverCancelled    RefundReason = "driver_cancelled"
	RefundRideCancelled      RefundReason = "ride_cancelled"
	RefundAdminAction        RefundReason = "admin_action"
)

// StopPoint is an optional pickup or dropoff override.
type StopPoint struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Booking is a passenger claim on ride capacity. At most one booking exists
// per (ride, passenger).
type Booking struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	RideID        uuid.UUID     `json:"ride_id" db:"ride_id"`
	PassengerID   uuid.UUID     `json:"passenger_id" db:"passenger_id"`
	Seats         int           `json:"seats" db:"seats"`
	Luggage       int           `json:"luggage" db:"luggage"`
	Status        BookingStatus `json:"status" db:"status"`
	Pickup        *StopPoint    `json:"pickup,omitempty" db:"pickup"`
	Dropoff       *StopPoint    `json:"dropoff,omitempty" db:"dropoff"`
	AmountPaid    int64         `json:"amount_paid" db:"amount_paid"`
	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`
	PaymentMethod PaymentMethod `json:"payment_method" db:"payment_method"`
	PSPIntentID   *string       `json:"psp_intent_id,omitempty" db:"psp_intent_id"`
	RefundID      *string       `json:"refund_id,omitempty" db:"refund_id"`
	RefundedAt    *time.Time    `json:"refunded_at,omitempty" db:"refunded_at"`
	RefundReason  *RefundReason `json:"refund_reason,omitempty" db:"refund_reason"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`

	// Populated on read paths.
	Ride      *Ride       `json:"ride,omitempty" db:"-"`
	Passenger *PublicUser `json:"passenger,omitempty" db:"-"`
}

// CreateBookingRequest represents a passenger requesting seats on a ride.
type CreateBookingRequest struct {
	Seats   int        `json:"seats" binding:"required,min=1,max=8"`
	Luggage int        `json:"luggage" binding:"min=0,max=8"`
	Pickup  *StopPoint `json:"pickup,omitempty"`
	Dropoff *StopPoint `json:"dropoff,omitempty"`
}

// BookingTransitionRequest asks for a state machine transition.
type BookingTransitionRequest struct {
	Status BookingStatus `json:"status" binding:"required,oneof=accepted rejected cancelled"`
}

// UpdateBookingRequest changes seats or luggage on a pending booking.
type UpdateBookingRequest struct {
	Seats   *int       `json:"seats,omitempty" binding:"omitempty,min=1,max=8"`
	Luggage *int       `json:"luggage,omitempty" binding:"omitempty,min=0,max=8"`
	Pickup  *StopPoint `json:"pickup,omitempty"`
	Dropoff *StopPoint `json:"dropoff,omitempty"`
}

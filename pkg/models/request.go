package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus represents the lifecycle of a passenger broadcast request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusAccepted  RequestStatus = "accepted"
	RequestStatusCancelled RequestStatus = "cancelled"
	RequestStatusExpired   RequestStatus = "expired"
)

// OfferStatus represents a driver offer state.
type OfferStatus string

const (
	OfferStatusPending  OfferStatus = "pending"
	OfferStatusAccepted OfferStatus = "accepted"
	OfferStatusRejected OfferStatus = "rejected"
)

// RequestLocation is the pickup/dropoff end of a broadcast request.
type RequestLocation struct {
	Address  string  `json:"address"`
	City     string  `json:"city"`
	Postcode *string `json:"postcode,omitempty"`
	Lat      float64 `json:"lat" binding:"latitude"`
	Lon      float64 `json:"lon" binding:"longitude"`
}

// RideRequest is a passenger broadcast that drivers bid on.
type RideRequest struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	PassengerID     uuid.UUID       `json:"passenger_id" db:"passenger_id"`
	AirportID       uuid.UUID       `json:"airport_id" db:"airport_id"`
	Direction       RideDirection   `json:"direction" db:"direction"`
	Location        RequestLocation `json:"location" db:"location"`
	PreferredAt     time.Time       `json:"preferred_at" db:"preferred_at"`
	FlexibilityMin  int             `json:"flexibility_minutes" db:"flexibility_minutes"`
	SeatsNeeded     int             `json:"seats_needed" db:"seats_needed"`
	Luggage         int             `json:"luggage" db:"luggage"`
	MaxPricePerSeat *int64          `json:"max_price_per_seat,omitempty" db:"max_price_per_seat"`
	Notes           *string         `json:"notes,omitempty" db:"notes"`
	Status          RequestStatus   `json:"status" db:"status"`
	MatchedDriverID *uuid.UUID      `json:"matched_driver_id,omitempty" db:"matched_driver_id"`
	MatchedRideID   *uuid.UUID      `json:"matched_ride_id,omitempty" db:"matched_ride_id"`
	PaymentStatus   PaymentStatus   `json:"payment_status" db:"payment_status"`
	ExpiresAt       time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`

	// Populated on read paths.
	Offers         []Offer     `json:"offers,omitempty" db:"-"`
	Passenger      *PublicUser `json:"passenger,omitempty" db:"-"`
	HasUserOffered bool        `json:"has_user_offered" db:"-"`
	DistanceMeters *float64    `json:"distance_meters,omitempty" db:"-"`
}

// Offer is a driver bid on a ride request. At most one pending offer exists
// per (request, driver).
type Offer struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	RequestID    uuid.UUID   `json:"request_id" db:"request_id"`
	DriverID     uuid.UUID   `json:"driver_id" db:"driver_id"`
	RideID       *uuid.UUID  `json:"ride_id,omitempty" db:"ride_id"`
	PricePerSeat int64       `json:"price_per_seat" db:"price_per_seat"`
	Message      *string     `json:"message,omitempty" db:"message"`
	Status       OfferStatus `json:"status" db:"status"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`

	Driver *PublicUser `json:"driver,omitempty" db:"-"`
}

// CreateRequestRequest represents a passenger broadcasting a trip need.
type CreateRequestRequest struct {
	AirportID       uuid.UUID       `json:"airport_id" binding:"required"`
	Direction       RideDirection   `json:"direction" binding:"required,oneof=to_airport from_airport"`
	Location        RequestLocation `json:"location" binding:"required"`
	PreferredAt     time.Time       `json:"preferred_at" binding:"required"`
	FlexibilityMin  int             `json:"flexibility_minutes" binding:"min=0,max=720"`
	SeatsNeeded     int             `json:"seats_needed" binding:"required,min=1,max=8"`
	Luggage         int             `json:"luggage" binding:"min=0,max=8"`
	MaxPricePerSeat *int64          `json:"max_price_per_seat,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
}

// MakeOfferRequest represents a driver bidding on a request.
type MakeOfferRequest struct {
	PricePerSeat int64      `json:"price_per_seat" binding:"required,min=0"`
	RideID       *uuid.UUID `json:"ride_id,omitempty"`
	Message      *string    `json:"message,omitempty"`
}

// AcceptOfferRequest selects an offer and a payment method.
type AcceptOfferRequest struct {
	OfferID       uuid.UUID     `json:"offer_id" binding:"required"`
	PaymentMethod PaymentMethod `json:"payment_method" binding:"required,oneof=card wallet"`
	PSPIntentID   *string       `json:"psp_intent_id,omitempty"`
}

// RejectOfferRequest names the offer being turned down.
type RejectOfferRequest struct {
	OfferID uuid.UUID `json:"offer_id" binding:"required"`
}

// RequestSearchQuery carries driver-side request search parameters.
type RequestSearchQuery struct {
	AirportID    *uuid.UUID     `form:"airport_id"`
	Direction    *RideDirection `form:"direction"`
	Date         *time.Time     `form:"date" time_format:"2006-01-02"`
	City         string         `form:"city"`
	PickupLat    *float64       `form:"pickup_lat"`
	PickupLon    *float64       `form:"pickup_lon"`
	RadiusMeters float64        `form:"radius_meters"`
}

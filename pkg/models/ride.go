package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/aeroride/carpool/pkg/geo"
)

// RideDirection distinguishes departure from arrival trips.
type RideDirection string

const (
	DirectionToAirport   RideDirection = "to_airport"
	DirectionFromAirport RideDirection = "from_airport"
)

// RideStatus represents the status of a published ride.
type RideStatus string

const (
	RideStatusActive    RideStatus = "active"
	RideStatusCancelled RideStatus = "cancelled"
	RideStatusCompleted RideStatus = "completed"
)

// HomeLocation is the non-airport end of a ride.
type HomeLocation struct {
	Address  *string `json:"address,omitempty"`
	Postcode string  `json:"postcode"`
	City     string  `json:"city"`
	Lat      float64 `json:"lat" binding:"latitude"`
	Lon      float64 `json:"lon" binding:"longitude"`
}

// Ride is a driver-published seated trip between home and an airport.
// SeatsLeft/LuggageLeft are the capacity counters; they change only through
// the conditional reserve/release statements, never by plain assignment.
type Ride struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	DriverID     uuid.UUID     `json:"driver_id" db:"driver_id"`
	AirportID    uuid.UUID     `json:"airport_id" db:"airport_id"`
	Direction    RideDirection `json:"direction" db:"direction"`
	Home         HomeLocation  `json:"home" db:"home"`
	DepartureAt  time.Time     `json:"departure_at" db:"departure_at"`
	SeatsTotal   int           `json:"seats_total" db:"seats_total"`
	SeatsLeft    int           `json:"seats_left" db:"seats_left"`
	LuggageTotal int           `json:"luggage_total" db:"luggage_total"`
	LuggageLeft  int           `json:"luggage_left" db:"luggage_left"`
	PricePerSeat int64         `json:"price_per_seat" db:"price_per_seat"`
	Currency     string        `json:"currency" db:"currency"`
	Route        []geo.Point   `json:"route,omitempty" db:"route"`
	Status       RideStatus    `json:"status" db:"status"`
	Comment      *string       `json:"comment,omitempty" db:"comment"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`

	// Driver is populated on read paths that join the owner profile.
	Driver *PublicUser `json:"driver,omitempty" db:"-"`
	// DistanceMeters is set on proximity searches.
	DistanceMeters *float64 `json:"distance_meters,omitempty" db:"-"`
}

// CreateRideRequest represents a driver publishing a trip.
type CreateRideRequest struct {
	AirportID    uuid.UUID     `json:"airport_id" binding:"required"`
	Direction    RideDirection `json:"direction" binding:"required,oneof=to_airport from_airport"`
	Home         HomeLocation  `json:"home" binding:"required"`
	DepartureAt  time.Time     `json:"departure_at" binding:"required"`
	SeatsTotal   int           `json:"seats_total" binding:"required,min=1,max=8"`
	LuggageTotal int           `json:"luggage_total" binding:"min=0,max=8"`
	PricePerSeat int64         `json:"price_per_seat" binding:"min=0"`
	Comment      *string       `json:"comment,omitempty"`
}

// UpdateRideRequest carries the mutable ride fields.
type UpdateRideRequest struct {
	DepartureAt  *time.Time `json:"departure_at,omitempty"`
	PricePerSeat *int64     `json:"price_per_seat,omitempty"`
	Comment      *string    `json:"comment,omitempty"`
	SeatsTotal   *int       `json:"seats_total,omitempty"`
	LuggageTotal *int       `json:"luggage_total,omitempty"`
}

// RideSearchQuery carries passenger-side ride search parameters.
type RideSearchQuery struct {
	AirportID    uuid.UUID      `form:"airport_id" binding:"required"`
	Direction    *RideDirection `form:"direction"`
	Date         *time.Time     `form:"date" time_format:"2006-01-02"`
	MinSeats     int            `form:"min_seats"`
	PickupLat    *float64       `form:"pickup_lat"`
	PickupLon    *float64       `form:"pickup_lon"`
	RadiusMeters float64        `form:"radius_meters"`
}

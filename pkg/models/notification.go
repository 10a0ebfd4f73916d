package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind is the closed enum of notification types. Payload shape is
// determined by the kind.
type NotificationKind string

const (
	NotifBookingRequest   NotificationKind = "booking_request"
	NotifBookingAccepted  NotificationKind = "booking_accepted"
	NotifBookingRejected  NotificationKind = "booking_rejected"
	NotifBookingCancelled NotificationKind = "booking_cancelled"
	NotifRideCancelled    NotificationKind = "ride_cancelled"
	NotifChatMessage      NotificationKind = "chat_message"
	NotifRateDriver       NotificationKind = "rate_driver"
	NotifRatePassenger    NotificationKind = "rate_passenger"
	NotifOfferReceived    NotificationKind = "offer_received"
	NotifOfferAccepted    NotificationKind = "offer_accepted"
	NotifOfferRejected    NotificationKind = "offer_rejected"
	NotifRequestBooked    NotificationKind = "request_booked"
	NotifRatingReceived   NotificationKind = "rating_received"
)

// DedupesPerBooking reports whether at most one notification of this kind may
// exist per (user, booking).
func (k NotificationKind) DedupesPerBooking() bool {
	return k == NotifRateDriver || k == NotifRatePassenger
}

// NotificationPayload is the typed per-kind payload. Only the fields relevant
// to the kind are set.
type NotificationPayload struct {
	RideID      *uuid.UUID `json:"ride_id,omitempty"`
	BookingID   *uuid.UUID `json:"booking_id,omitempty"`
	RequestID   *uuid.UUID `json:"request_id,omitempty"`
	OfferID     *uuid.UUID `json:"offer_id,omitempty"`
	MessageID   *uuid.UUID `json:"message_id,omitempty"`
	ActorID     *uuid.UUID `json:"actor_id,omitempty"`
	ActorName   string     `json:"actor_name,omitempty"`
	Amount      *int64     `json:"amount,omitempty"`
	Seats       *int       `json:"seats,omitempty"`
	DepartureAt *time.Time `json:"departure_at,omitempty"`
	Stars       *int       `json:"stars,omitempty"`
	Text        string     `json:"text,omitempty"`
}

// Notification is a persisted per-user event.
type Notification struct {
	ID        uuid.UUID           `json:"id" db:"id"`
	UserID    uuid.UUID           `json:"user_id" db:"user_id"`
	Kind      NotificationKind    `json:"kind" db:"kind"`
	Payload   NotificationPayload `json:"payload" db:"payload"`
	IsRead    bool                `json:"is_read" db:"is_read"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
}

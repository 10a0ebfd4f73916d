package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a chat line between booking participants.
type Message struct {
	ID         uuid.UUID `json:"id" db:"id"`
	BookingID  uuid.UUID `json:"booking_id" db:"booking_id"`
	SenderID   uuid.UUID `json:"sender_id" db:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id" db:"receiver_id"`
	Body       string    `json:"body" db:"body"`
	IsRead     bool      `json:"is_read" db:"is_read"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// SendMessageRequest carries a new chat message.
type SendMessageRequest struct {
	Body string `json:"body" binding:"required,max=2000"`
}

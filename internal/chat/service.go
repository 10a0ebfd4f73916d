package chat

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/models"
)

// previewLength caps the message text carried in a notification payload.
const previewLength = 120

// Service handles chat between the two participants of a booking. The thread
// stays open while the booking is pending or accepted; rejected and cancelled
// bookings are read-only.
type Service struct {
	repo     RepositoryInterface
	bookings BookingReader
	rides    RideReader
	notifier Notifier
}

// NewService creates a new chat service
func NewService(repo RepositoryInterface, bookings BookingReader, rides RideReader, notifier Notifier) *Service {
	return &Service{repo: repo, bookings: bookings, rides: rides, notifier: notifier}
}

// SendMessage posts a message into a booking thread and notifies the other
// participant.
func (s *Service) SendMessage(ctx context.Context, senderID, bookingID uuid.UUID, req *models.SendMessageRequest) (*models.Message, error) {
	booking, receiverID, err := s.resolveThread(ctx, senderID, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusPending && booking.Status != models.BookingStatusAccepted {
		return nil, common.NewStateError("this conversation is closed")
	}

	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, common.NewValidationError("message body cannot be empty")
	}

	message := &models.Message{
		BookingID:  bookingID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
	}
	if err := s.repo.Create(ctx, message); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		preview := body
		if runes := []rune(preview); len(runes) > previewLength {
			preview = string(runes[:previewLength])
		}
		s.notifier.Notify(ctx, receiverID, models.NotifChatMessage, models.NotificationPayload{
			BookingID: &bookingID,
			MessageID: &message.ID,
			ActorID:   &senderID,
			Text:      preview,
		})
	}
	return message, nil
}

// ListMessages returns a booking's thread to a participant and marks the
// messages addressed to them as read.
func (s *Service) ListMessages(ctx context.Context, userID, bookingID uuid.UUID, limit, offset int) ([]*models.Message, int64, error) {
	if _, _, err := s.resolveThread(ctx, userID, bookingID); err != nil {
		return nil, 0, err
	}

	messages, total, err := s.repo.ListByBooking(ctx, bookingID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if _, err := s.repo.MarkReadForUser(ctx, bookingID, userID); err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// UnreadCount returns the user's unread message total across all bookings.
func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}

// resolveThread checks the user participates in the booking and returns the
// other party.
func (s *Service) resolveThread(ctx context.Context, userID, bookingID uuid.UUID) (*models.Booking, uuid.UUID, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	ride, err := s.rides.GetRideByID(ctx, booking.RideID)
	if err != nil {
		return nil, uuid.Nil, err
	}

	switch userID {
	case booking.PassengerID:
		return booking, ride.DriverID, nil
	case ride.DriverID:
		return booking, booking.PassengerID, nil
	}
	return nil, uuid.Nil, common.NewForbiddenError("you are not a participant of this booking")
}

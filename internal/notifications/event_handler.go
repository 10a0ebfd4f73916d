package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/pkg/eventbus"
	"github.com/aeroride/carpool/pkg/logger"
)

// EventHandler consumes marketplace events off the bus and delivers email for
// the outcomes worth an inbox interruption. In-app rows are already written
// by the services that published the event.
type EventHandler struct {
	repo  RepositoryInterface
	email EmailSender
}

// NewEventHandler creates an event handler backed by the repository and mailer.
func NewEventHandler(repo RepositoryInterface, email EmailSender) *EventHandler {
	return &EventHandler{repo: repo, email: email}
}

// RegisterSubscriptions subscribes to booking and request events on the bus.
func (h *EventHandler) RegisterSubscriptions(ctx context.Context, bus *eventbus.Bus) error {
	if err := bus.Subscribe(ctx, "bookings.>", "notifications-bookings", h.handleEvent); err != nil {
		return fmt.Errorf("subscribe to booking events: %w", err)
	}
	if err := bus.Subscribe(ctx, "requests.>", "notifications-requests", h.handleEvent); err != nil {
		return fmt.Errorf("subscribe to request events: %w", err)
	}
	logger.Info("notifications: subscribed to marketplace events")
	return nil
}

func (h *EventHandler) handleEvent(ctx context.Context, event *eventbus.Event) error {
	switch event.Type {
	case eventbus.SubjectBookingAccepted:
		return h.onBookingAccepted(ctx, event)
	case eventbus.SubjectBookingRejected:
		return h.onBookingRejected(ctx, event)
	case eventbus.SubjectBookingCancelled:
		return h.onBookingCancelled(ctx, event)
	case eventbus.SubjectRequestMatched:
		return h.onRequestMatched(ctx, event)
	case eventbus.SubjectOfferAccepted:
		return h.onOfferAccepted(ctx, event)
	default:
		logger.Debug("notifications: ignoring event type", zap.String("type", event.Type))
		return nil
	}
}

func (h *EventHandler) onBookingAccepted(ctx context.Context, event *eventbus.Event) error {
	var data eventbus.BookingEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal booking accepted: %w", err)
	}

	return h.deliver(ctx, data.PassengerID,
		"Your booking was accepted",
		"A driver accepted your booking. Check the app for pickup details.")
}

func (h *EventHandler) onBookingRejected(ctx context.Context, event *eventbus.Event) error {
	var data eventbus.BookingEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal booking rejected: %w", err)
	}

	return h.deliver(ctx, data.PassengerID,
		"Your booking was declined",
		"The driver declined your booking. Any payment has been refunded.")
}

func (h *EventHandler) onBookingCancelled(ctx context.Context, event *eventbus.Event) error {
	var data eventbus.BookingEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal booking cancelled: %w", err)
	}

	// Passengers who cancel themselves don't need mail about it.
	if data.CancelledBy != "driver" {
		return nil
	}
	return h.deliver(ctx, data.PassengerID,
		"Your ride was cancelled",
		"The driver cancelled the ride. Paid bookings are refunded in full.")
}

func (h *EventHandler) onRequestMatched(ctx context.Context, event *eventbus.Event) error {
	var data eventbus.RequestEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal request matched: %w", err)
	}

	return h.deliver(ctx, data.PassengerID,
		"Your ride request is booked",
		"A driver is confirmed for your request. Check the app for trip details.")
}

func (h *EventHandler) onOfferAccepted(ctx context.Context, event *eventbus.Event) error {
	var data eventbus.OfferEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal offer accepted: %w", err)
	}

	return h.deliver(ctx, data.DriverID,
		"Your offer was accepted",
		"A passenger accepted your offer. Check the app for trip details.")
}

// deliver looks up the recipient and sends. Failures are logged and dropped;
// a deleted user or a down mailer is no reason to redeliver the event.
func (h *EventHandler) deliver(ctx context.Context, userID uuid.UUID, subject, body string) error {
	if h.email == nil {
		return nil
	}

	email, name, err := h.repo.GetRecipient(ctx, userID)
	if err != nil {
		logger.WarnContext(ctx, "no recipient for notification email",
			zap.Error(err), zap.String("user_id", userID.String()))
		return nil
	}

	if err := h.email.SendNotificationEmail(email, name, subject, body); err != nil {
		logger.WarnContext(ctx, "failed to send notification email",
			zap.Error(err), zap.String("subject", subject))
	}
	return nil
}

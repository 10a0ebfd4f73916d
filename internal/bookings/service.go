package bookings

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/internal/payments"
	"github.com/aeroride/carpool/internal/wallet"
	"github.com/aeroride/carpool/pkg/clock"
	"github.com/aeroride/carpool/pkg/common"
	apperrors "github.com/aeroride/carpool/pkg/errors"
	"github.com/aeroride/carpool/pkg/eventbus"
	"github.com/aeroride/carpool/pkg/logger"
	"github.com/aeroride/carpool/pkg/models"
)

const (
	// passengerCancelWindow is how long before departure a passenger can
	// still cancel an accepted booking.
	passengerCancelWindow = 24 * time.Hour
	// driverCancelWindow is how long before departure a driver can still
	// cancel a whole ride.
	driverCancelWindow = 12 * time.Hour
)

// Engine owns the booking state machine. Capacity, booking status and ledger
// writes that must agree always share one database transaction; PSP refunds
// happen after commit and degrade to warnings instead of rolling back.
type Engine struct {
	repo       RepositoryInterface
	capacity   CapacityStore
	ledger     LedgerStore
	gateway    PaymentGateway
	rides      RideReader
	notifier   Notifier
	eventBus   *eventbus.Bus
	clock      clock.Clock
	feePercent int64
	currency   string
}

// NewEngine creates a new booking engine
func NewEngine(repo RepositoryInterface, capacity CapacityStore, ledger LedgerStore, gateway PaymentGateway, rides RideReader, notifier Notifier, clk clock.Clock, feePercent int64, currency string) *Engine {
	return &Engine{
		repo:       repo,
		capacity:   capacity,
		ledger:     ledger,
		gateway:    gateway,
		rides:      rides,
		notifier:   notifier,
		clock:      clk,
		feePercent: feePercent,
		currency:   currency,
	}
}

// SetEventBus sets the NATS event bus for publishing booking events.
func (e *Engine) SetEventBus(bus *eventbus.Bus) {
	e.eventBus = bus
}

// publishEvent publishes an event asynchronously; a nil bus is a no-op.
func (e *Engine) publishEvent(subject string, data interface{}) {
	if e.eventBus == nil {
		return
	}
	go func() {
		evt, err := eventbus.NewEvent(subject, "bookings", data)
		if err != nil {
			logger.Warn("failed to create booking event", zap.String("subject", subject), zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.eventBus.Publish(ctx, subject, evt); err != nil {
			logger.Warn("failed to publish booking event", zap.String("subject", subject), zap.Error(err))
		}
	}()
}

func (e *Engine) bookingEvent(booking *models.Booking, ride *models.Ride) eventbus.BookingEventData {
	return eventbus.BookingEventData{
		BookingID:   booking.ID,
		RideID:      ride.ID,
		DriverID:    ride.DriverID,
		PassengerID: booking.PassengerID,
		Seats:       booking.Seats,
		Luggage:     booking.Luggage,
		Amount:      booking.AmountPaid,
		DepartureAt: ride.DepartureAt,
		OccurredAt:  e.clock.Now(),
	}
}

// CreateBooking places an unpaid pending booking. No capacity is reserved
// until the driver accepts or the passenger pays.
func (e *Engine) CreateBooking(ctx context.Context, passengerID, rideID uuid.UUID, req *models.CreateBookingRequest) (*models.Booking, error) {
	ride, err := e.rides.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := e.checkBookable(ride, passengerID, req.Seats, req.Luggage); err != nil {
		return nil, err
	}

	booking := &models.Booking{
		RideID:      rideID,
		PassengerID: passengerID,
		Seats:       req.Seats,
		Luggage:     req.Luggage,
		Pickup:      req.Pickup,
		Dropoff:     req.Dropoff,
	}
	if err := e.repo.Create(ctx, booking); err != nil {
		return nil, err
	}

	e.notify(ctx, ride.DriverID, models.NotifBookingRequest, models.NotificationPayload{
		BookingID: &booking.ID,
		RideID:    &rideID,
		ActorID:   &passengerID,
		Seats:     &booking.Seats,
	})
	e.publishEvent(eventbus.SubjectBookingRequested, e.bookingEvent(booking, ride))
	return booking, nil
}

func (e *Engine) checkBookable(ride *models.Ride, passengerID uuid.UUID, seats, luggage int) error {
	if ride.Status != models.RideStatusActive {
		return common.NewStateError("ride is no longer active")
	}
	if !ride.DepartureAt.After(e.clock.Now()) {
		return common.NewStateError("ride has already departed")
	}
	if ride.DriverID == passengerID {
		return common.NewValidationError("cannot book your own ride")
	}
	if seats > ride.SeatsLeft {
		return common.NewCapacityError(common.CodeInsufficientSeats,
			fmt.Sprintf("only %d seats left", ride.SeatsLeft), common.ErrInsufficientSeats)
	}
	if luggage > ride.LuggageLeft {
		return common.NewCapacityError(common.CodeInsufficientLuggage,
			fmt.Sprintf("only %d luggage slots left", ride.LuggageLeft), common.ErrInsufficientLuggage)
	}
	return nil
}

// UpdateBooking lets the passenger change seats, luggage or stops while the
// booking is still pending. Pending bookings hold no capacity, so the new
// counts must fit what the ride has left in full.
func (e *Engine) UpdateBooking(ctx context.Context, passengerID, bookingID uuid.UUID, req *models.UpdateBookingRequest) (*models.Booking, error) {
	booking, err := e.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PassengerID != passengerID {
		return nil, common.NewForbiddenError("only the passenger can change this booking")
	}
	if booking.Status != models.BookingStatusPending {
		return nil, common.NewStateError("only pending bookings can be changed")
	}

	ride, err := e.rides.GetRideByID(ctx, booking.RideID)
	if err != nil {
		return nil, err
	}

	if req.Seats != nil {
		booking.Seats = *req.Seats
	}
	if req.Luggage != nil {
		booking.Luggage = *req.Luggage
	}
	if req.Pickup != nil {
		booking.Pickup = req.Pickup
	}
	if req.Dropoff != nil {
		booking.Dropoff = req.Dropoff
	}
	if err := e.checkBookable(ride, passengerID, booking.Seats, booking.Luggage); err != nil {
		return nil, err
	}

	if err := e.repo.UpdatePending(ctx, booking); err != nil {
		return nil, err
	}

	e.notify(ctx, ride.DriverID, models.NotifBookingRequest, models.NotificationPayload{
		BookingID: &booking.ID,
		RideID:    &ride.ID,
		ActorID:   &passengerID,
		Seats:     &booking.Seats,
	})
	e.publishEvent(eventbus.SubjectBookingRequested, e.bookingEvent(booking, ride))
	return booking, nil
}

// Transition applies a state machine transition on behalf of the actor.
// Refund warnings are returned alongside the booking and never fail the
// transition itself.
func (e *Engine) Transition(ctx context.Context, actorID, bookingID uuid.UUID, req *models.BookingTransitionRequest) (*models.Booking, []string, error) {
	booking, err := e.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	ride, err := e.rides.GetRideByID(ctx, booking.RideID)
	if err != nil {
		return nil, nil, err
	}

	switch req.Status {
	case models.BookingStatusAccepted:
		booking, err = e.accept(ctx, actorID, booking, ride)
		return booking, nil, err
	case models.BookingStatusRejected:
		return e.reject(ctx, actorID, booking, ride)
	case models.BookingStatusCancelled:
		return e.cancelByPassenger(ctx, actorID, booking, ride)
	default:
		return nil, nil, common.NewValidationError("unsupported transition")
	}
}

// accept reserves capacity and confirms the booking atomically.
func (e *Engine) accept(ctx context.Context, actorID uuid.UUID, booking *models.Booking, ride *models.Ride) (*models.Booking, error) {
	if ride.DriverID != actorID {
		return nil, common.NewForbiddenError("only the driver can accept bookings")
	}
	if booking.Status != models.BookingStatusPending {
		return nil, common.NewStateError("booking is not pending")
	}
	if !ride.DepartureAt.After(e.clock.Now()) {
		return nil, common.NewStateError("ride has already departed")
	}

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.capacity.ReserveTx(ctx, tx, ride.ID, booking.Seats, booking.Luggage); err != nil {
		return nil, err
	}
	if err := e.repo.TransitionTx(ctx, tx, booking.ID, models.BookingStatusPending, models.BookingStatusAccepted); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit acceptance: %w", err)
	}

	booking.Status = models.BookingStatusAccepted
	e.notify(ctx, booking.PassengerID, models.NotifBookingAccepted, models.NotificationPayload{
		BookingID:   &booking.ID,
		RideID:      &ride.ID,
		ActorID:     &actorID,
		DepartureAt: &ride.DepartureAt,
	})
	e.publishEvent(eventbus.SubjectBookingAccepted, e.bookingEvent(booking, ride))
	return booking, nil
}

func (e *Engine) reject(ctx context.Context, actorID uuid.UUID, booking *models.Booking, ride *models.Ride) (*models.Booking, []string, error) {
	if ride.DriverID != actorID {
		return nil, nil, common.NewForbiddenError("only the driver can reject bookings")
	}
	if booking.Status != models.BookingStatusPending {
		return nil, nil, common.NewStateError("booking is not pending")
	}

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.repo.TransitionTx(ctx, tx, booking.ID, models.BookingStatusPending, models.BookingStatusRejected); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit rejection: %w", err)
	}
	booking.Status = models.BookingStatusRejected

	warnings := e.refundBooking(ctx, booking, models.RefundDriverCancelled)
	e.notify(ctx, booking.PassengerID, models.NotifBookingRejected, models.NotificationPayload{
		BookingID: &booking.ID,
		RideID:    &ride.ID,
		ActorID:   &actorID,
	})
	e.publishEvent(eventbus.SubjectBookingRejected, e.bookingEvent(booking, ride))
	return booking, warnings, nil
}

// cancelByPassenger handles both pending and accepted cancellations. An
// accepted cancellation releases the reserved capacity in the same
// transaction; refunds run after commit.
func (e *Engine) cancelByPassenger(ctx context.Context, actorID uuid.UUID, booking *models.Booking, ride *models.Ride) (*models.Booking, []string, error) {
	if booking.PassengerID != actorID {
		return nil, nil, common.NewForbiddenError("only the passenger can cancel this booking")
	}

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	switch booking.Status {
	case models.BookingStatusPending:
		if err := e.repo.TransitionTx(ctx, tx, booking.ID, models.BookingStatusPending, models.BookingStatusCancelled); err != nil {
			return nil, nil, err
		}
	case models.BookingStatusAccepted:
		if e.clock.Now().After(ride.DepartureAt.Add(-passengerCancelWindow)) {
			return nil, nil, common.NewStateError("bookings can only be cancelled at least 24 hours before departure")
		}
		if err := e.repo.TransitionTx(ctx, tx, booking.ID, models.BookingStatusAccepted, models.BookingStatusCancelled); err != nil {
			return nil, nil, err
		}
		if err := e.capacity.ReleaseTx(ctx, tx, ride.ID, booking.Seats, booking.Luggage); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, common.NewStateError("booking cannot be cancelled")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}
	booking.Status = models.BookingStatusCancelled

	warnings := e.refundBooking(ctx, booking, models.RefundPassengerCancelled)
	e.notify(ctx, ride.DriverID, models.NotifBookingCancelled, models.NotificationPayload{
		BookingID: &booking.ID,
		RideID:    &ride.ID,
		ActorID:   &actorID,
		Seats:     &booking.Seats,
	})
	cancelled := e.bookingEvent(booking, ride)
	cancelled.CancelledBy = "passenger"
	e.publishEvent(eventbus.SubjectBookingCancelled, cancelled)
	return booking, warnings, nil
}

// refundBooking returns the full gross amount to the passenger. Errors are
// collected as warnings; the cancellation that triggered the refund is
// already committed and stays committed.
func (e *Engine) refundBooking(ctx context.Context, booking *models.Booking, reason models.RefundReason) []string {
	if booking.PaymentStatus != models.PaymentStatusPaid {
		return nil
	}

	var warnings []string
	switch booking.PaymentMethod {
	case models.PaymentMethodCard:
		warnings = e.refundCard(ctx, booking, reason)
	case models.PaymentMethodWallet:
		warnings = e.refundWallet(ctx, booking, reason)
	default:
		warnings = []string{fmt.Sprintf("booking %s is paid with unknown method, refund manually", booking.ID)}
	}

	for _, w := range warnings {
		logger.WarnContext(ctx, "refund incomplete", zap.String("booking_id", booking.ID.String()), zap.String("warning", w))
		apperrors.CaptureSettlementIssue(w, map[string]interface{}{
			"booking_id": booking.ID.String(),
			"reason":     string(reason),
		})
	}
	return warnings
}

func (e *Engine) refundCard(ctx context.Context, booking *models.Booking, reason models.RefundReason) []string {
	if booking.PSPIntentID == nil {
		return []string{fmt.Sprintf("booking %s has no payment intent, refund manually", booking.ID)}
	}

	// An earning in the internal ledger means the charge was not split;
	// split charges need the transfer reversed at the PSP instead.
	earning, err := e.ledger.GetEarningByReference(ctx, models.RefBooking, booking.ID)
	if err != nil {
		return []string{fmt.Sprintf("could not inspect ledger for booking %s: %v", booking.ID, err)}
	}
	reverseTransfer := earning == nil

	result, err := e.gateway.Refund(ctx, *booking.PSPIntentID, reverseTransfer, true)
	if err != nil {
		return []string{fmt.Sprintf("card refund for booking %s failed: %v", booking.ID, err)}
	}

	var warnings []string
	if err := e.markRefunded(ctx, booking.ID, &result.RefundID, reason); err != nil {
		warnings = append(warnings, fmt.Sprintf("refund %s issued but booking %s not marked: %v", result.RefundID, booking.ID, err))
	}

	bookingID := booking.ID
	credit := &models.Transaction{
		UserID:        booking.PassengerID,
		Kind:          models.TxRefund,
		Amount:        booking.AmountPaid,
		GrossAmount:   booking.AmountPaid,
		NetAmount:     booking.AmountPaid,
		Currency:      e.currency,
		Status:        models.TxStatusCompleted,
		ReferenceKind: models.RefBooking,
		ReferenceID:   &bookingID,
		PSPIntentID:   booking.PSPIntentID,
		Description:   "Booking refund",
	}
	if err := e.ledger.Append(ctx, credit); err != nil {
		warnings = append(warnings, fmt.Sprintf("refund for booking %s not credited to passenger wallet: %v", booking.ID, err))
	}

	if earning != nil {
		reversal := &models.Transaction{
			UserID:        earning.UserID,
			Kind:          models.TxRefund,
			Amount:        -earning.Amount,
			NetAmount:     -earning.Amount,
			Currency:      e.currency,
			Status:        models.TxStatusCompleted,
			ReferenceKind: models.RefBooking,
			ReferenceID:   &bookingID,
			PSPIntentID:   booking.PSPIntentID,
			Description:   "Earning reversed after refund",
		}
		if err := e.ledger.Append(ctx, reversal); err != nil {
			warnings = append(warnings, fmt.Sprintf("driver earning for booking %s not reversed: %v", booking.ID, err))
		}
	}
	return warnings
}

func (e *Engine) refundWallet(ctx context.Context, booking *models.Booking, reason models.RefundReason) []string {
	bookingID := booking.ID

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return []string{fmt.Sprintf("wallet refund for booking %s failed: %v", booking.ID, err)}
	}
	defer tx.Rollback(ctx)

	credit := &models.Transaction{
		UserID:        booking.PassengerID,
		Kind:          models.TxRefund,
		Amount:        booking.AmountPaid,
		GrossAmount:   booking.AmountPaid,
		NetAmount:     booking.AmountPaid,
		Currency:      e.currency,
		Status:        models.TxStatusCompleted,
		ReferenceKind: models.RefBooking,
		ReferenceID:   &bookingID,
		Description:   "Booking refund",
	}
	if err := e.ledger.ApplyLedger(ctx, tx, credit); err != nil {
		return []string{fmt.Sprintf("wallet refund for booking %s failed: %v", booking.ID, err)}
	}
	if err := e.repo.MarkRefundedTx(ctx, tx, booking.ID, nil, reason); err != nil {
		return []string{fmt.Sprintf("wallet refund for booking %s failed: %v", booking.ID, err)}
	}
	if err := tx.Commit(ctx); err != nil {
		return []string{fmt.Sprintf("wallet refund for booking %s failed: %v", booking.ID, err)}
	}

	// Reverse the driver's credit separately: if the driver already spent
	// the funds this fails soft and goes to support.
	earning, err := e.ledger.GetEarningByReference(ctx, models.RefBooking, booking.ID)
	if err != nil || earning == nil {
		if err != nil {
			return []string{fmt.Sprintf("could not inspect ledger for booking %s: %v", booking.ID, err)}
		}
		return nil
	}
	reversal := &models.Transaction{
		UserID:        earning.UserID,
		Kind:          models.TxRefund,
		Amount:        -earning.Amount,
		NetAmount:     -earning.Amount,
		Currency:      e.currency,
		Status:        models.TxStatusCompleted,
		ReferenceKind: models.RefBooking,
		ReferenceID:   &bookingID,
		Description:   "Earning reversed after refund",
	}
	if err := e.ledger.Append(ctx, reversal); err != nil {
		return []string{fmt.Sprintf("driver earning for booking %s not reversed: %v", booking.ID, err)}
	}
	return nil
}

func (e *Engine) markRefunded(ctx context.Context, bookingID uuid.UUID, refundID *string, reason models.RefundReason) error {
	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := e.repo.MarkRefundedTx(ctx, tx, bookingID, refundID, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CompletePayment settles a card payment: it verifies the intent at the PSP,
// reserves capacity and confirms the booking in one transaction. A capacity
// race after a successful charge refunds the passenger.
func (e *Engine) CompletePayment(ctx context.Context, passengerID uuid.UUID, intentID string) (*models.Booking, error) {
	intent, err := e.gateway.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !intent.Succeeded() {
		return nil, common.NewPaymentError("payment has not completed", common.ErrPaymentFailed)
	}
	if intent.Metadata["kind"] != "booking" {
		return nil, common.NewValidationError("payment intent is not for a booking")
	}
	if intent.Metadata["passenger_id"] != passengerID.String() {
		return nil, common.NewForbiddenError("payment intent belongs to another passenger")
	}
	rideID, err := uuid.Parse(intent.Metadata["ride_id"])
	if err != nil {
		return nil, common.NewValidationError("payment intent has no valid ride reference")
	}
	seats, err := strconv.Atoi(intent.Metadata["seats"])
	if err != nil || seats < 1 {
		return nil, common.NewValidationError("payment intent has no valid seat count")
	}
	luggage, _ := strconv.Atoi(intent.Metadata["luggage"])

	// Replays of an already settled intent return the existing booking.
	if existing, err := e.repo.GetByIntentID(ctx, intentID); err == nil {
		return existing, nil
	} else if !common.IsNotFound(err) {
		return nil, err
	}

	booking, err := e.repo.GetByRideAndPassenger(ctx, rideID, passengerID)
	if err != nil && !common.IsNotFound(err) {
		return nil, err
	}
	if booking != nil && booking.Status != models.BookingStatusPending {
		e.compensateIntent(ctx, intent)
		return nil, common.NewStateError("booking is no longer pending, payment refunded")
	}

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.capacity.ReserveTx(ctx, tx, rideID, seats, luggage); err != nil {
		tx.Rollback(ctx)
		e.compensateIntent(ctx, intent)
		if appErr, ok := err.(*common.AppError); ok {
			return nil, common.NewCapacityError(appErr.ErrorCode, appErr.Message+", payment refunded", appErr.Err)
		}
		return nil, err
	}

	pspIntentID := intentID
	if booking != nil {
		if err := e.repo.TransitionTx(ctx, tx, booking.ID, models.BookingStatusPending, models.BookingStatusAccepted); err != nil {
			tx.Rollback(ctx)
			e.compensateIntent(ctx, intent)
			return nil, err
		}
		if err := e.repo.SetPaidTx(ctx, tx, booking.ID, intent.Amount, models.PaymentMethodCard, &pspIntentID); err != nil {
			tx.Rollback(ctx)
			e.compensateIntent(ctx, intent)
			return nil, err
		}
		booking.Status = models.BookingStatusAccepted
		booking.PaymentStatus = models.PaymentStatusPaid
		booking.PaymentMethod = models.PaymentMethodCard
		booking.AmountPaid = intent.Amount
		booking.PSPIntentID = &pspIntentID
	} else {
		booking = &models.Booking{
			RideID:        rideID,
			PassengerID:   passengerID,
			Seats:         seats,
			Luggage:       luggage,
			Status:        models.BookingStatusAccepted,
			AmountPaid:    intent.Amount,
			PaymentStatus: models.PaymentStatusPaid,
			PaymentMethod: models.PaymentMethodCard,
			PSPIntentID:   &pspIntentID,
		}
		if err := e.repo.CreateTx(ctx, tx, booking); err != nil {
			tx.Rollback(ctx)
			e.compensateIntent(ctx, intent)
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		e.compensateIntent(ctx, intent)
		return nil, fmt.Errorf("failed to commit paid booking: %w", err)
	}

	if ride, rerr := e.rides.GetRideByID(ctx, rideID); rerr == nil {
		e.notify(ctx, ride.DriverID, models.NotifBookingRequest, models.NotificationPayload{
			BookingID: &booking.ID,
			RideID:    &rideID,
			ActorID:   &passengerID,
			Seats:     &booking.Seats,
			Amount:    &booking.AmountPaid,
		})
		e.publishEvent(eventbus.SubjectBookingRequested, e.bookingEvent(booking, ride))
	}
	return booking, nil
}

// compensateIntent refunds a charge whose booking could not be confirmed.
func (e *Engine) compensateIntent(ctx context.Context, intent *payments.Intent) {
	_, err := e.gateway.Refund(ctx, intent.ID, intent.HasTransferData(), true)
	if err != nil {
		logger.ErrorContext(ctx, "failed to refund unconfirmed payment",
			zap.Error(err), zap.String("payment_intent_id", intent.ID))
		apperrors.CaptureSettlementIssue("charge captured without a booking", map[string]interface{}{
			"payment_intent_id": intent.ID,
			"error":             err.Error(),
		})
	}
}

// PayWithWallet books and settles from wallet balance in one transaction:
// capacity reservation, passenger debit and driver credit commit or roll
// back together.
func (e *Engine) PayWithWallet(ctx context.Context, passengerID, rideID uuid.UUID, req *models.CreateBookingRequest) (*models.Booking, error) {
	ride, err := e.rides.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := e.checkBookable(ride, passengerID, req.Seats, req.Luggage); err != nil {
		return nil, err
	}

	amount := ride.PricePerSeat * int64(req.Seats)
	if amount <= 0 {
		return nil, common.NewValidationError("ride is free, book it directly")
	}
	fee, net := wallet.ComputeFee(amount, e.feePercent)

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	booking := &models.Booking{
		RideID:        rideID,
		PassengerID:   passengerID,
		Seats:         req.Seats,
		Luggage:       req.Luggage,
		Pickup:        req.Pickup,
		Dropoff:       req.Dropoff,
		Status:        models.BookingStatusAccepted,
		AmountPaid:    amount,
		PaymentStatus: models.PaymentStatusPaid,
		PaymentMethod: models.PaymentMethodWallet,
	}
	if err := e.repo.CreateTx(ctx, tx, booking); err != nil {
		return nil, err
	}
	if err := e.capacity.ReserveTx(ctx, tx, rideID, req.Seats, req.Luggage); err != nil {
		return nil, err
	}

	bookingID := booking.ID
	debit := &models.Transaction{
		UserID:        passengerID,
		Kind:          models.TxRidePayment,
		Amount:        -amount,
		GrossAmount:   amount,
		Currency:      e.currency,
		Status:        models.TxStatusCompleted,
		ReferenceKind: models.RefBooking,
		ReferenceID:   &bookingID,
		Description:   "Ride booking",
	}
	if err := e.ledger.ApplyLedger(ctx, tx, debit); err != nil {
		return nil, err
	}
	credit := &models.Transaction{
		UserID:        ride.DriverID,
		Kind:          models.TxRideEarning,
		Amount:        net,
		GrossAmount:   amount,
		FeeAmount:     fee,
		FeePercentage: e.feePercent,
		NetAmount:     net,
		Currency:      e.currency,
		Status:        models.TxStatusCompleted,
		ReferenceKind: models.RefBooking,
		ReferenceID:   &bookingID,
		Description:   "Ride earnings",
	}
	if err := e.ledger.ApplyLedger(ctx, tx, credit); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit wallet booking: %w", err)
	}

	e.notify(ctx, ride.DriverID, models.NotifBookingRequest, models.NotificationPayload{
		BookingID: &booking.ID,
		RideID:    &rideID,
		ActorID:   &passengerID,
		Seats:     &booking.Seats,
		Amount:    &amount,
	})
	e.publishEvent(eventbus.SubjectBookingRequested, e.bookingEvent(booking, ride))
	return booking, nil
}

// CancelRide cancels a whole ride and cascades to its bookings. The status
// flips commit first; refunds run after and report warnings on failure.
func (e *Engine) CancelRide(ctx context.Context, driverID, rideID uuid.UUID) (*models.Ride, []string, error) {
	ride, err := e.rides.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, nil, err
	}
	if ride.DriverID != driverID {
		return nil, nil, common.NewForbiddenError("only the driver can cancel this ride")
	}
	if ride.Status != models.RideStatusActive {
		return nil, nil, common.NewStateError("ride is not active")
	}
	if e.clock.Now().After(ride.DepartureAt.Add(-driverCancelWindow)) {
		return nil, nil, common.NewStateError("rides can only be cancelled at least 12 hours before departure")
	}

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.repo.CancelRideTx(ctx, tx, rideID); err != nil {
		return nil, nil, err
	}
	affected, err := e.repo.ListActiveByRideTx(ctx, tx, rideID)
	if err != nil {
		return nil, nil, err
	}
	for _, booking := range affected {
		if err := e.repo.TransitionTx(ctx, tx, booking.ID, booking.Status, models.BookingStatusCancelled); err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit ride cancellation: %w", err)
	}
	ride.Status = models.RideStatusCancelled

	e.publishEvent(eventbus.SubjectRideCancelled, eventbus.RideEventData{
		RideID:      rideID,
		DriverID:    driverID,
		AirportID:   ride.AirportID,
		DepartureAt: ride.DepartureAt,
		OccurredAt:  e.clock.Now(),
	})

	var warnings []string
	for _, booking := range affected {
		warnings = append(warnings, e.refundBooking(ctx, booking, models.RefundRideCancelled)...)
		e.notify(ctx, booking.PassengerID, models.NotifRideCancelled, models.NotificationPayload{
			BookingID:   &booking.ID,
			RideID:      &rideID,
			ActorID:     &driverID,
			DepartureAt: &ride.DepartureAt,
		})
		cancelled := e.bookingEvent(booking, ride)
		cancelled.CancelledBy = "driver"
		e.publishEvent(eventbus.SubjectBookingCancelled, cancelled)
	}

	logger.InfoContext(ctx, "ride cancelled",
		zap.String("ride_id", rideID.String()),
		zap.Int("bookings_cancelled", len(affected)),
		zap.Int("refund_warnings", len(warnings)))
	return ride, warnings, nil
}

// GetBooking returns a booking to one of its participants.
func (e *Engine) GetBooking(ctx context.Context, actorID, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := e.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	ride, err := e.rides.GetRideByID(ctx, booking.RideID)
	if err != nil {
		return nil, err
	}
	if booking.PassengerID != actorID && ride.DriverID != actorID {
		return nil, common.NewForbiddenError("you are not part of this booking")
	}
	ride.Route = nil
	booking.Ride = ride
	return booking, nil
}

// MyBookings returns the passenger's bookings.
func (e *Engine) MyBookings(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*models.Booking, int64, error) {
	return e.repo.ListByPassenger(ctx, passengerID, limit, offset)
}

// RideBookings returns all bookings on a ride, driver only.
func (e *Engine) RideBookings(ctx context.Context, driverID, rideID uuid.UUID) ([]*models.Booking, error) {
	ride, err := e.rides.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != driverID {
		return nil, common.NewForbiddenError("only the driver can view ride bookings")
	}
	return e.repo.ListByRide(ctx, rideID)
}

func (e *Engine) notify(ctx context.Context, userID uuid.UUID, kind models.NotificationKind, payload models.NotificationPayload) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, userID, kind, payload)
}

package requests

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/internal/wallet"
	"github.com/aeroride/carpool/pkg/clock"
	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/eventbus"
	"github.com/aeroride/carpool/pkg/geo"
	"github.com/aeroride/carpool/pkg/logger"
	"github.com/aeroride/carpool/pkg/models"
)

const (
	// offerWindow is how long after the preferred pickup time a request
	// keeps collecting offers.
	offerWindow = time.Hour

	defaultSearchRadiusMeters = 5000
	maxSearchRadiusMeters     = 50000
)

// Engine owns the request and offer marketplace. Payment always settles
// before the acceptance flip mutates any state.
type Engine struct {
	repo       RepositoryInterface
	ledger     LedgerStore
	gateway    IntentVerifier
	airports   AirportReader
	rides      RideReader
	notifier   Notifier
	eventBus   *eventbus.Bus
	clock      clock.Clock
	feePercent int64
	currency   string
}

// NewEngine creates a new request engine
func NewEngine(repo RepositoryInterface, ledger LedgerStore, gateway IntentVerifier, airports AirportReader, rides RideReader, notifier Notifier, clk clock.Clock, feePercent int64, currency string) *Engine {
	return &Engine{
		repo:       repo,
		ledger:     ledger,
		gateway:    gateway,
		airports:   airports,
		rides:      rides,
		notifier:   notifier,
		clock:      clk,
		feePercent: feePercent,
		currency:   currency,
	}
}

// SetEventBus sets the NATS event bus for publishing request and offer events.
func (e *Engine) SetEventBus(bus *eventbus.Bus) {
	e.eventBus = bus
}

// publishEvent publishes an event asynchronously; a nil bus is a no-op.
func (e *Engine) publishEvent(subject string, data interface{}) {
	if e.eventBus == nil {
		return
	}
	go func() {
		evt, err := eventbus.NewEvent(subject, "requests", data)
		if err != nil {
			logger.Warn("failed to create request event", zap.String("subject", subject), zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.eventBus.Publish(ctx, subject, evt); err != nil {
			logger.Warn("failed to publish request event", zap.String("subject", subject), zap.Error(err))
		}
	}()
}

func offerEvent(offer *models.Offer, passengerID uuid.UUID, now time.Time) eventbus.OfferEventData {
	return eventbus.OfferEventData{
		OfferID:      offer.ID,
		RequestID:    offer.RequestID,
		DriverID:     offer.DriverID,
		PassengerID:  passengerID,
		PricePerSeat: offer.PricePerSeat,
		OccurredAt:   now,
	}
}

// CreateRequest broadcasts a trip need. The request expires one hour after
// the preferred pickup time.
func (e *Engine) CreateRequest(ctx context.Context, passengerID uuid.UUID, req *models.CreateRequestRequest) (*models.RideRequest, error) {
	if !req.PreferredAt.After(e.clock.Now()) {
		return nil, common.NewValidationError("preferred time must be in the future")
	}
	if req.Location.Lat < -90 || req.Location.Lat > 90 || req.Location.Lon < -180 || req.Location.Lon > 180 {
		return nil, common.NewValidationError("invalid pickup coordinates")
	}
	if _, err := e.airports.GetAirport(ctx, req.AirportID); err != nil {
		return nil, err
	}

	request := &models.RideRequest{
		PassengerID:     passengerID,
		AirportID:       req.AirportID,
		Direction:       req.Direction,
		Location:        req.Location,
		PreferredAt:     req.PreferredAt,
		FlexibilityMin:  req.FlexibilityMin,
		SeatsNeeded:     req.SeatsNeeded,
		Luggage:         req.Luggage,
		MaxPricePerSeat: req.MaxPricePerSeat,
		Notes:           req.Notes,
		ExpiresAt:       req.PreferredAt.Add(offerWindow),
	}
	if err := e.repo.CreateRequest(ctx, request); err != nil {
		return nil, err
	}

	e.publishEvent(eventbus.SubjectRequestCreated, eventbus.RequestEventData{
		RequestID:   request.ID,
		PassengerID: passengerID,
		AirportID:   request.AirportID,
		SeatsNeeded: request.SeatsNeeded,
		OccurredAt:  e.clock.Now(),
	})
	return request, nil
}

// GetRequest returns a request with its offers. Drivers see whether they
// already offered.
func (e *Engine) GetRequest(ctx context.Context, actorID, requestID uuid.UUID) (*models.RideRequest, error) {
	request, err := e.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	for _, offer := range request.Offers {
		if offer.DriverID == actorID && offer.Status == models.OfferStatusPending {
			request.HasUserOffered = true
			break
		}
	}
	return request, nil
}

// MyRequests returns the passenger's requests.
func (e *Engine) MyRequests(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*models.RideRequest, int64, error) {
	return e.repo.ListByPassenger(ctx, passengerID, limit, offset)
}

// SearchAvailable returns pending requests a driver can bid on, optionally
// filtered and ordered by proximity to a pickup point.
func (e *Engine) SearchAvailable(ctx context.Context, driverID uuid.UUID, query *models.RequestSearchQuery, limit, offset int) ([]*models.RideRequest, int64, error) {
	hasPickup := query.PickupLat != nil && query.PickupLon != nil
	if (query.PickupLat == nil) != (query.PickupLon == nil) {
		return nil, 0, common.NewValidationError("pickup_lat and pickup_lon must be provided together")
	}

	var cells []int64
	if hasPickup {
		radius := query.RadiusMeters
		if radius <= 0 {
			radius = defaultSearchRadiusMeters
		}
		if radius > maxSearchRadiusMeters {
			radius = maxSearchRadiusMeters
		}
		query.RadiusMeters = radius
		cells = geo.CellsWithinRadius(*query.PickupLat, *query.PickupLon, radius)
	}

	requests, total, err := e.repo.Search(ctx, query, cells, driverID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	if hasPickup {
		for _, req := range requests {
			d := geo.HaversineMeters(*query.PickupLat, *query.PickupLon, req.Location.Lat, req.Location.Lon)
			req.DistanceMeters = &d
		}
		sort.Slice(requests, func(i, j int) bool {
			return *requests[i].DistanceMeters < *requests[j].DistanceMeters
		})
	}
	return requests, total, nil
}

// MakeOffer places a driver bid on a pending request.
func (e *Engine) MakeOffer(ctx context.Context, driverID, requestID uuid.UUID, req *models.MakeOfferRequest) (*models.Offer, error) {
	request, err := e.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.PassengerID == driverID {
		return nil, common.NewValidationError("cannot offer on your own request")
	}
	if request.Status != models.RequestStatusPending {
		return nil, common.NewStateError("request is no longer open for offers")
	}
	if !request.ExpiresAt.After(e.clock.Now()) {
		return nil, common.NewStateError("request has expired")
	}

	if req.RideID != nil {
		ride, err := e.rides.GetRideByID(ctx, *req.RideID)
		if err != nil {
			return nil, err
		}
		if ride.DriverID != driverID {
			return nil, common.NewForbiddenError("ride belongs to another driver")
		}
		if ride.Status != models.RideStatusActive {
			return nil, common.NewStateError("ride is no longer active")
		}
	}

	offer := &models.Offer{
		RequestID:    requestID,
		DriverID:     driverID,
		RideID:       req.RideID,
		PricePerSeat: req.PricePerSeat,
		Message:      req.Message,
	}
	if err := e.repo.CreateOffer(ctx, offer); err != nil {
		return nil, err
	}

	e.notify(ctx, request.PassengerID, models.NotifOfferReceived, models.NotificationPayload{
		RequestID: &requestID,
		OfferID:   &offer.ID,
		ActorID:   &driverID,
		Amount:    &offer.PricePerSeat,
	})
	e.publishEvent(eventbus.SubjectOfferReceived, offerEvent(offer, request.PassengerID, e.clock.Now()))
	return offer, nil
}

// AcceptOffer settles payment for the chosen offer, then atomically accepts
// it, rejects its siblings and closes the request.
func (e *Engine) AcceptOffer(ctx context.Context, passengerID, requestID uuid.UUID, req *models.AcceptOfferRequest) (*models.RideRequest, error) {
	request, err := e.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.PassengerID != passengerID {
		return nil, common.NewForbiddenError("only the requester can accept offers")
	}
	if request.Status != models.RequestStatusPending {
		return nil, common.NewStateError("request is no longer pending")
	}
	if !request.ExpiresAt.After(e.clock.Now()) {
		return nil, common.NewStateError("request has expired")
	}

	offer, err := e.repo.GetOfferByID(ctx, req.OfferID)
	if err != nil {
		return nil, err
	}
	if offer.RequestID != requestID {
		return nil, common.NewValidationError("offer does not belong to this request")
	}
	if offer.Status != models.OfferStatusPending {
		return nil, common.NewStateError("offer is not pending")
	}

	total := offer.PricePerSeat * int64(request.SeatsNeeded)

	switch req.PaymentMethod {
	case models.PaymentMethodWallet:
		err = e.acceptWithWallet(ctx, request, offer, total)
	case models.PaymentMethodCard:
		err = e.acceptWithCard(ctx, request, offer, total, req.PSPIntentID)
	default:
		return nil, common.NewValidationError("unsupported payment method")
	}
	if err != nil {
		return nil, err
	}

	e.notify(ctx, passengerID, models.NotifRequestBooked, models.NotificationPayload{
		RequestID: &requestID,
		OfferID:   &offer.ID,
		ActorID:   &offer.DriverID,
		Amount:    &total,
		Seats:     &request.SeatsNeeded,
	})
	e.notify(ctx, offer.DriverID, models.NotifOfferAccepted, models.NotificationPayload{
		RequestID: &requestID,
		OfferID:   &offer.ID,
		ActorID:   &passengerID,
		Amount:    &total,
		Seats:     &request.SeatsNeeded,
	})
	for i := range request.Offers {
		sibling := &request.Offers[i]
		if sibling.ID == offer.ID || sibling.Status != models.OfferStatusPending {
			continue
		}
		e.notify(ctx, sibling.DriverID, models.NotifOfferRejected, models.NotificationPayload{
			RequestID: &requestID,
			OfferID:   &sibling.ID,
		})
		e.publishEvent(eventbus.SubjectOfferRejected, offerEvent(sibling, passengerID, e.clock.Now()))
	}

	e.publishEvent(eventbus.SubjectRequestMatched, eventbus.RequestEventData{
		RequestID:       requestID,
		PassengerID:     passengerID,
		AirportID:       request.AirportID,
		MatchedDriverID: &offer.DriverID,
		SeatsNeeded:     request.SeatsNeeded,
		OccurredAt:      e.clock.Now(),
	})
	e.publishEvent(eventbus.SubjectOfferAccepted, offerEvent(offer, passengerID, e.clock.Now()))

	request.Status = models.RequestStatusAccepted
	request.PaymentStatus = models.PaymentStatusPaid
	request.MatchedDriverID = &offer.DriverID
	request.MatchedRideID = offer.RideID
	return request, nil
}

// acceptWithWallet debits the passenger, credits the driver and flips the
// offer in one transaction.
func (e *Engine) acceptWithWallet(ctx context.Context, request *models.RideRequest, offer *models.Offer, total int64) error {
	if total <= 0 {
		return common.NewValidationError("offer total must be positive")
	}
	fee, net := wallet.ComputeFee(total, e.feePercent)

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	requestID := request.ID
	debit := &models.Transaction{
		UserID:        request.PassengerID,
		Kind:          models.TxRidePayment,
		Amount:        -total,
		GrossAmount:   total,
		Currency:      e.currency,
		Status:        models.TxStatusCompleted,
		ReferenceKind: models.RefRequest,
		ReferenceID:   &requestID,
		Description:   "Accepted ride offer",
	}
	if err := e.ledger.ApplyLedger(ctx, tx, debit); err != nil {
		return err
	}
	credit := &models.Transaction{
		UserID:        offer.DriverID,
		Kind:          models.TxRideEarning,
		Amount:        net,
		GrossAmount:   total,
		FeeAmount:     fee,
		FeePercentage: e.feePercent,
		NetAmount:     net,
		Currency:      e.currency,
		Status:        models.TxStatusCompleted,
		ReferenceKind: models.RefRequest,
		ReferenceID:   &requestID,
		Description:   "Ride offer earnings",
	}
	if err := e.ledger.ApplyLedger(ctx, tx, credit); err != nil {
		return err
	}
	if err := e.repo.AcceptOfferTx(ctx, tx, request, offer); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit offer acceptance: %w", err)
	}
	return nil
}

// acceptWithCard verifies the settled intent at the PSP, then flips the
// offer. Split charges settle on the driver's connected account; unsplit
// charges credit the driver's wallet inside the flip transaction.
func (e *Engine) acceptWithCard(ctx context.Context, request *models.RideRequest, offer *models.Offer, total int64, intentID *string) error {
	if intentID == nil || *intentID == "" {
		return common.NewValidationError("psp_intent_id is required for card payments")
	}
	intent, err := e.gateway.GetIntent(ctx, *intentID)
	if err != nil {
		return err
	}
	if !intent.Succeeded() {
		return common.NewPaymentError("payment has not completed", common.ErrPaymentFailed)
	}
	if intent.Metadata["kind"] != "offer" {
		return common.NewValidationError("payment intent is not for an offer")
	}
	if intent.Metadata["offer_id"] != offer.ID.String() {
		return common.NewValidationError("payment intent is for another offer")
	}
	if intent.Metadata["passenger_id"] != request.PassengerID.String() {
		return common.NewForbiddenError("payment intent belongs to another passenger")
	}
	if intent.Amount != total {
		return common.NewPaymentError("payment amount does not match offer total", common.ErrPaymentFailed)
	}

	tx, err := e.repo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.repo.AcceptOfferTx(ctx, tx, request, offer); err != nil {
		return err
	}

	if !intent.HasTransferData() {
		existing, err := e.ledger.GetEarningByReference(ctx, models.RefRequest, request.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			fee, net := wallet.ComputeFee(total, e.feePercent)
			requestID := request.ID
			credit := &models.Transaction{
				UserID:        offer.DriverID,
				Kind:          models.TxRideEarning,
				Amount:        net,
				GrossAmount:   total,
				FeeAmount:     fee,
				FeePercentage: e.feePercent,
				NetAmount:     net,
				Currency:      e.currency,
				Status:        models.TxStatusCompleted,
				ReferenceKind: models.RefRequest,
				ReferenceID:   &requestID,
				PSPIntentID:   intentID,
				Description:   "Ride offer earnings",
			}
			if err := e.ledger.ApplyLedger(ctx, tx, credit); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit offer acceptance: %w", err)
	}
	return nil
}

// RejectOffer lets the passenger turn down a single offer.
func (e *Engine) RejectOffer(ctx context.Context, passengerID, requestID, offerID uuid.UUID) error {
	request, err := e.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return err
	}
	if request.PassengerID != passengerID {
		return common.NewForbiddenError("only the requester can reject offers")
	}
	offer, err := e.repo.GetOfferByID(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.RequestID != requestID {
		return common.NewValidationError("offer does not belong to this request")
	}
	if err := e.repo.UpdateOfferStatus(ctx, offerID, models.OfferStatusPending, models.OfferStatusRejected); err != nil {
		return err
	}

	e.notify(ctx, offer.DriverID, models.NotifOfferRejected, models.NotificationPayload{
		RequestID: &requestID,
		OfferID:   &offerID,
	})
	e.publishEvent(eventbus.SubjectOfferRejected, offerEvent(offer, passengerID, e.clock.Now()))
	return nil
}

// WithdrawOffer lets a driver retract their pending offer on a request.
func (e *Engine) WithdrawOffer(ctx context.Context, driverID, requestID uuid.UUID) error {
	offer, err := e.repo.GetPendingOfferByRequestAndDriver(ctx, requestID, driverID)
	if err != nil {
		return err
	}
	return e.repo.UpdateOfferStatus(ctx, offer.ID, models.OfferStatusPending, models.OfferStatusRejected)
}

// CancelRequest closes a pending request before any offer was accepted.
func (e *Engine) CancelRequest(ctx context.Context, passengerID, requestID uuid.UUID) error {
	request, err := e.repo.GetRequestByID(ctx, requestID)
	if err != nil {
		return err
	}
	if request.PassengerID != passengerID {
		return common.NewForbiddenError("only the requester can cancel")
	}
	return e.repo.UpdateRequestStatus(ctx, requestID, models.RequestStatusPending, models.RequestStatusCancelled)
}

// MyOffers returns the driver's offers.
func (e *Engine) MyOffers(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Offer, int64, error) {
	return e.repo.ListOffersByDriver(ctx, driverID, limit, offset)
}

// ExpireRequests sweeps overdue pending requests. Called by the scheduler.
func (e *Engine) ExpireRequests(ctx context.Context) (int64, error) {
	return e.repo.ExpirePending(ctx)
}

func (e *Engine) notify(ctx context.Context, userID uuid.UUID, kind models.NotificationKind, payload models.NotificationPayload) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, userID, kind, payload)
}

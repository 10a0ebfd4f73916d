package payments

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/aeroride/carpool/internal/wallet"
	"github.com/aeroride/carpool/pkg/clock"
	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/models"
)

// IntentGateway is the slice of the payment gateway the intent service uses.
type IntentGateway interface {
	CreateIntent(ctx context.Context, amount int64, currency, description string, metadata map[string]string, splitDestination string, applicationFee int64) (*Intent, error)
}

// Service sizes and creates payment intents. It never mutates domain state;
// bookings and requests settle themselves once the intent succeeds.
type Service struct {
	gateway    IntentGateway
	rides      RideReader
	offers     OfferReader
	accounts   AccountReader
	clock      clock.Clock
	feePercent int64
	currency   string
}

// NewService creates a new payments service
func NewService(gateway IntentGateway, rides RideReader, offers OfferReader, accounts AccountReader, clk clock.Clock, feePercent int64, currency string) *Service {
	return &Service{
		gateway:    gateway,
		rides:      rides,
		offers:     offers,
		accounts:   accounts,
		clock:      clk,
		feePercent: feePercent,
		currency:   currency,
	}
}

// CreateBookingIntent creates a card intent for booking seats on a ride. The
// charge is split to the driver's connected account when one is enabled.
func (s *Service) CreateBookingIntent(ctx context.Context, passengerID, rideID uuid.UUID, seats, luggage int) (*Intent, error) {
	ride, err := s.rides.GetRideByID(ctx, rideID)
	if err != nil {
		return nil, err
	}

	if ride.Status != models.RideStatusActive {
		return nil, common.NewStateError("ride is not open for booking")
	}
	if !ride.DepartureAt.After(s.clock.Now()) {
		return nil, common.NewStateError("ride has already departed")
	}
	if ride.DriverID == passengerID {
		return nil, common.NewValidationError("cannot book your own ride")
	}
	if seats < 1 {
		return nil, common.NewValidationError("seats must be at least 1")
	}

	amount := ride.PricePerSeat * int64(seats)
	if amount <= 0 {
		return nil, common.NewValidationError("ride is free, no payment required")
	}

	metadata := map[string]string{
		"kind":         "booking",
		"ride_id":      rideID.String(),
		"passenger_id": passengerID.String(),
		"seats":        strconv.Itoa(seats),
		"luggage":      strconv.Itoa(luggage),
	}

	destination, applicationFee := s.splitFor(ctx, ride.DriverID, amount)
	return s.gateway.CreateIntent(ctx, amount, s.currency, "Ride booking", metadata, destination, applicationFee)
}

// CreateOfferIntent creates a card intent for accepting a driver offer on a
// broadcast request.
func (s *Service) CreateOfferIntent(ctx context.Context, passengerID, requestID, offerID uuid.UUID) (*Intent, error) {
	request, err := s.offers.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.PassengerID != passengerID {
		return nil, common.NewForbiddenError("request belongs to another passenger")
	}
	if request.Status != models.RequestStatusPending {
		return nil, common.NewStateError("request is no longer open")
	}
	if !request.ExpiresAt.After(s.clock.Now()) {
		return nil, common.NewStateError("request has expired")
	}

	offer, err := s.offers.GetOfferByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.RequestID != requestID {
		return nil, common.NewValidationError("offer does not belong to this request")
	}
	if offer.Status != models.OfferStatusPending {
		return nil, common.NewStateError("offer is no longer pending")
	}

	amount := offer.PricePerSeat * int64(request.SeatsNeeded)
	if amount <= 0 {
		return nil, common.NewValidationError("offer is free, no payment required")
	}

	metadata := map[string]string{
		"kind":         "offer",
		"request_id":   requestID.String(),
		"offer_id":     offerID.String(),
		"passenger_id": passengerID.String(),
	}

	destination, applicationFee := s.splitFor(ctx, offer.DriverID, amount)
	return s.gateway.CreateIntent(ctx, amount, s.currency, "Ride request offer", metadata, destination, applicationFee)
}

// splitFor resolves the driver's connected account. Drivers without an
// enabled account are paid through the internal wallet ledger instead, so the
// intent is created unsplit.
func (s *Service) splitFor(ctx context.Context, driverID uuid.UUID, amount int64) (string, int64) {
	accountID, enabled, err := s.accounts.GetUserPayoutAccount(ctx, driverID)
	if err != nil || !enabled || accountID == nil || *accountID == "" {
		return "", 0
	}
	fee, _ := wallet.ComputeFee(amount, s.feePercent)
	return *accountID, fee
}

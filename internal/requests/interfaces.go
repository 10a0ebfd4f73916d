package requests

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aeroride/carpool/internal/payments"
	"github.com/aeroride/carpool/pkg/models"
)

// RepositoryInterface is the request and offer persistence surface.
type RepositoryInterface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateRequest(ctx context.Context, req *models.RideRequest) error
	GetRequestByID(ctx context.Context, id uuid.UUID) (*models.RideRequest, error)
	ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*models.RideRequest, int64, error)
	Search(ctx context.Context, query *models.RequestSearchQuery, cells []int64, driverID uuid.UUID, limit, offset int) ([]*models.RideRequest, int64, error)
	UpdateRequestStatus(ctx context.Context, id uuid.UUID, from, to models.RequestStatus) error
	ExpirePending(ctx context.Context) (int64, error)

	CreateOffer(ctx context.Context, offer *models.Offer) error
	GetOfferByID(ctx context.Context, id uuid.UUID) (*models.Offer, error)
	GetPendingOfferByRequestAndDriver(ctx context.Context, requestID, driverID uuid.UUID) (*models.Offer, error)
	ListOffersByRequest(ctx context.Context, requestID uuid.UUID) ([]models.Offer, error)
	ListOffersByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Offer, int64, error)
	UpdateOfferStatus(ctx context.Context, id uuid.UUID, from, to models.OfferStatus) error
	AcceptOfferTx(ctx context.Context, tx pgx.Tx, request *models.RideRequest, offer *models.Offer) error
}

// LedgerStore writes wallet ledger entries inside the acceptance transaction.
type LedgerStore interface {
	ApplyLedger(ctx context.Context, tx pgx.Tx, txn *models.Transaction) error
	GetEarningByReference(ctx context.Context, refKind models.ReferenceKind, refID uuid.UUID) (*models.Transaction, error)
}

// IntentVerifier checks card payments at the PSP before acceptance mutates
// any state.
type IntentVerifier interface {
	GetIntent(ctx context.Context, intentID string) (*payments.Intent, error)
}

// AirportReader validates the airport end of a request.
type AirportReader interface {
	GetAirport(ctx context.Context, id uuid.UUID) (*models.Airport, error)
}

// RideReader validates an optional ride attached to an offer.
type RideReader interface {
	GetRideByID(ctx context.Context, id uuid.UUID) (*models.Ride, error)
}

// Notifier delivers in-app notifications, best effort.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind models.NotificationKind, payload models.NotificationPayload)
}

package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"

	"github.com/aeroride/carpool/pkg/models"
)

// StripeAPI is the raw Stripe surface, extracted for mocking.
type StripeAPI interface {
	CreatePaymentIntent(amount int64, currency, description string, metadata map[string]string, splitDestination string, applicationFee int64) (*stripe.PaymentIntent, error)
	GetPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error)
	CreateRefund(paymentIntentID string, reverseTransfer, refundApplicationFee bool) (*stripe.Refund, error)
	CreateTransfer(amount int64, currency, destination string, metadata map[string]string) (*stripe.Transfer, error)
	CreateConnectedAccount(email, userID string) (*stripe.Account, *stripe.AccountLink, error)
	CreateAccountLink(accountID string) (*stripe.AccountLink, error)
	GetAccount(accountID string) (*stripe.Account, error)
}

// RepositoryInterface is the persistence surface of the webhook reconciler.
type RepositoryInterface interface {
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
	ClearEvent(ctx context.Context, eventID string) error
	GetBookingByIntentID(ctx context.Context, intentID string) (*models.Booking, error)
	SetBookingPaymentFailed(ctx context.Context, intentID string) error
	GetRideDriver(ctx context.Context, rideID uuid.UUID) (uuid.UUID, error)
	SetUserPayoutAccount(ctx context.Context, accountID string, enabled bool) error
}

// LedgerInterface is the slice of the wallet ledger the reconciler writes to.
type LedgerInterface interface {
	Append(ctx context.Context, txn *models.Transaction) error
	ExistsByIntentID(ctx context.Context, intentID string, kind models.TransactionKind) (bool, error)
	GetEarningByReference(ctx context.Context, refKind models.ReferenceKind, refID uuid.UUID) (*models.Transaction, error)
	GetPayoutByPSPID(ctx context.Context, pspID string) (*models.Payout, error)
	UpdatePayoutStatus(ctx context.Context, id uuid.UUID, status models.PayoutStatus, failureReason *string) error
	AttachTransferToPayout(ctx context.Context, payoutID uuid.UUID, transferID string) error
	CompleteTransaction(ctx context.Context, id uuid.UUID) error
	FailTransaction(ctx context.Context, id uuid.UUID) error
}

// RideReader resolves rides for intent sizing.
type RideReader interface {
	GetRideByID(ctx context.Context, id uuid.UUID) (*models.Ride, error)
}

// OfferReader resolves requests and offers for offer-intent sizing.
type OfferReader interface {
	GetRequestByID(ctx context.Context, id uuid.UUID) (*models.RideRequest, error)
	GetOfferByID(ctx context.Context, id uuid.UUID) (*models.Offer, error)
}

// AccountReader resolves driver payout accounts for split routing.
type AccountReader interface {
	GetUserPayoutAccount(ctx context.Context, userID uuid.UUID) (*string, bool, error)
}

// BookingCompleter finalizes bookings after payment, implemented by the
// booking engine.
type BookingCompleter interface {
	CompletePayment(ctx context.Context, passengerID uuid.UUID, intentID string) (*models.Booking, error)
	PayWithWallet(ctx context.Context, passengerID, rideID uuid.UUID, req *models.CreateBookingRequest) (*models.Booking, error)
}

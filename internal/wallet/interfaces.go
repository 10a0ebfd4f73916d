package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aeroride/carpool/pkg/models"
)

// RepositoryInterface defines the ledger store operations used by the service.
type RepositoryInterface interface {
	GetWalletByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Append(ctx context.Context, txn *models.Transaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID, filter *models.TransactionFilter, limit, offset int) ([]*models.Transaction, int64, error)
	RecomputeBalance(ctx context.Context, walletID uuid.UUID) (int64, error)
	FailTransaction(ctx context.Context, id uuid.UUID) error
	CreatePayout(ctx context.Context, payout *models.Payout) error
	UpdatePayoutStatus(ctx context.Context, id uuid.UUID, status models.PayoutStatus, failureReason *string) error
	ListPayouts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Payout, int64, error)
	GetEarningsSummary(ctx context.Context, userID uuid.UUID) (*models.EarningsSummary, error)
	GetUserPayoutAccount(ctx context.Context, userID uuid.UUID) (*string, bool, error)
	SetUserPayoutAccount(ctx context.Context, userID uuid.UUID, accountID string, enabled bool) error
}

// ConnectedAccount is the PSP-side onboarding result.
type ConnectedAccount struct {
	AccountID     string
	OnboardingURL string
	ExpiresAt     time.Time
}

// AccountStatus is the PSP-side connected account state.
type AccountStatus struct {
	AccountID           string
	CapabilitiesEnabled bool
	RequirementsDue     []string
}

// PaymentGateway is the slice of the PSP client the wallet service needs for
// withdrawals and connected-account onboarding.
type PaymentGateway interface {
	CreateTransfer(ctx context.Context, amount int64, currency, destination string, metadata map[string]string) (string, error)
	CreateConnectedAccount(ctx context.Context, email, userID string) (*ConnectedAccount, error)
	GetAccount(ctx context.Context, accountID string) (*AccountStatus, error)
}

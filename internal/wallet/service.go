package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/pkg/cache"
	"github.com/aeroride/carpool/pkg/clock"
	"github.com/aeroride/carpool/pkg/common"
	apperrors "github.com/aeroride/carpool/pkg/errors"
	"github.com/aeroride/carpool/pkg/logger"
	"github.com/aeroride/carpool/pkg/models"
)

const minWithdrawal = 100 // one whole currency unit

type Service struct {
	repo       RepositoryInterface
	gateway    PaymentGateway
	cache      *cache.Manager
	clock      clock.Clock
	feePercent int64
	currency   string
}

func NewService(repo RepositoryInterface, gateway PaymentGateway, cacheManager *cache.Manager, clk clock.Clock, feePercent int64, currency string) *Service {
	return &Service{
		repo:       repo,
		gateway:    gateway,
		cache:      cacheManager,
		clock:      clk,
		feePercent: feePercent,
		currency:   currency,
	}
}

// FeePercent exposes the configured platform fee.
func (s *Service) FeePercent() int64 { return s.feePercent }

// Currency exposes the platform settlement currency.
func (s *Service) Currency() string { return s.currency }

// GetWallet returns the user's wallet, creating it on first access.
func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return s.repo.GetWalletByUserID(ctx, userID)
}

// ListTransactions returns the user's ledger history.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, filter *models.TransactionFilter, limit, offset int) ([]*models.Transaction, int64, error) {
	return s.repo.ListTransactions(ctx, userID, filter, limit, offset)
}

// ListPayouts returns the user's withdrawal history.
func (s *Service) ListPayouts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Payout, int64, error) {
	return s.repo.ListPayouts(ctx, userID, limit, offset)
}

// GetEarningsSummary aggregates the user's wallet activity.
func (s *Service) GetEarningsSummary(ctx context.Context, userID uuid.UUID) (*models.EarningsSummary, error) {
	return s.repo.GetEarningsSummary(ctx, userID)
}

// CalculateEarnings previews the fee split for a gross amount.
func (s *Service) CalculateEarnings(gross int64) (fee, net int64) {
	return ComputeFee(gross, s.feePercent)
}

// Withdraw moves wallet balance to the user's connected account. The pending
// withdrawal entry holds the funds immediately; webhook reconciliation settles
// or reverses it.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, req *models.WithdrawRequest) (*models.Payout, error) {
	if req.Amount < minWithdrawal {
		return nil, common.NewValidationError(fmt.Sprintf("minimum withdrawal is %d", minWithdrawal))
	}

	accountID, enabled, err := s.repo.GetUserPayoutAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if accountID == nil || !enabled {
		return nil, common.NewStateError("no payout account connected, complete bank onboarding first")
	}

	wallet, err := s.repo.GetWalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance < req.Amount {
		return nil, common.NewCapacityError(common.CodeInsufficientBalance, "insufficient wallet balance", common.ErrInsufficientBalance)
	}

	method := req.Method
	if method == "" {
		method = models.PayoutStandard
	}

	txn := &models.Transaction{
		ID:            uuid.New(),
		UserID:        userID,
		Kind:          models.TxWithdrawal,
		Amount:        -req.Amount,
		GrossAmount:   req.Amount,
		NetAmount:     req.Amount,
		Currency:      wallet.Currency,
		Status:        models.TxStatusPending,
		ReferenceKind: models.RefPayout,
		Description:   "wallet withdrawal",
	}
	if err := s.repo.Append(ctx, txn); err != nil {
		return nil, err
	}

	arrival := s.clock.Now().Add(arrivalDelay(method))
	payout := &models.Payout{
		ID:               uuid.New(),
		UserID:           userID,
		WalletID:         wallet.ID,
		Amount:           req.Amount,
		Currency:         wallet.Currency,
		Status:           models.PayoutStatusPending,
		Method:           method,
		EstimatedArrival: &arrival,
		TransactionID:    txn.ID,
	}
	txn.ReferenceID = &payout.ID
	if err := s.repo.CreatePayout(ctx, payout); err != nil {
		// Undo the hold so the balance is not stuck.
		if ferr := s.repo.FailTransaction(ctx, txn.ID); ferr != nil {
			logger.ErrorContext(ctx, "failed to fail withdrawal hold",
				zap.String("user_id", userID.String()), zap.Error(ferr))
		}
		reversal := &models.Transaction{
			UserID:        userID,
			Kind:          models.TxWithdrawalFailed,
			Amount:        req.Amount,
			Currency:      wallet.Currency,
			Status:        models.TxStatusCompleted,
			ReferenceKind: models.RefPayout,
			Description:   "withdrawal reversal after payout creation failure",
		}
		if rerr := s.repo.Append(ctx, reversal); rerr != nil {
			logger.ErrorContext(ctx, "failed to reverse withdrawal hold",
				zap.String("user_id", userID.String()), zap.Error(rerr))
			apperrors.CaptureSettlementIssue("withdrawal hold not reversed", map[string]interface{}{
				"user_id":        userID.String(),
				"transaction_id": txn.ID.String(),
				"amount":         req.Amount,
				"error":          rerr.Error(),
			})
		}
		return nil, err
	}

	transferID, err := s.gateway.CreateTransfer(ctx, req.Amount, wallet.Currency, *accountID, map[string]string{
		"payout_id": payout.ID.String(),
		"user_id":   userID.String(),
	})
	if err != nil {
		failure := "transfer creation failed"
		if uerr := s.repo.UpdatePayoutStatus(ctx, payout.ID, models.PayoutStatusFailed, &failure); uerr != nil {
			logger.ErrorContext(ctx, "failed to mark payout failed", zap.Error(uerr))
		}
		if ferr := s.repo.FailTransaction(ctx, txn.ID); ferr != nil {
			logger.ErrorContext(ctx, "failed to fail withdrawal hold", zap.Error(ferr))
		}
		if ferr := s.repo.Append(ctx, &models.Transaction{
			UserID:        userID,
			Kind:          models.TxWithdrawalFailed,
			Amount:        req.Amount,
			Currency:      wallet.Currency,
			Status:        models.TxStatusCompleted,
			ReferenceKind: models.RefPayout,
			ReferenceID:   &payout.ID,
			Description:   "withdrawal reversal after transfer failure",
		}); ferr != nil {
			logger.ErrorContext(ctx, "failed to reverse withdrawal hold", zap.Error(ferr))
			apperrors.CaptureSettlementIssue("withdrawal hold not reversed", map[string]interface{}{
				"user_id":   userID.String(),
				"payout_id": payout.ID.String(),
				"amount":    req.Amount,
				"error":     ferr.Error(),
			})
		}
		return nil, common.NewPaymentError("failed to initiate payout", err)
	}

	payout.Status = models.PayoutStatusProcessing
	payout.PSPTransferID = &transferID
	if err := s.repo.UpdatePayoutStatus(ctx, payout.ID, models.PayoutStatusProcessing, nil); err != nil {
		logger.ErrorContext(ctx, "failed to mark payout processing", zap.Error(err))
	}

	s.invalidateWalletCache(ctx, userID)
	logger.InfoContext(ctx, "withdrawal initiated",
		zap.String("payout_id", payout.ID.String()),
		zap.Int64("amount", req.Amount),
	)
	return payout, nil
}

// ConnectBank starts connected-account onboarding and stores the account id.
func (s *Service) ConnectBank(ctx context.Context, userID uuid.UUID, email string) (*ConnectedAccount, error) {
	accountID, _, err := s.repo.GetUserPayoutAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if accountID != nil {
		// Re-onboarding an existing account just refreshes the link.
		status, err := s.gateway.GetAccount(ctx, *accountID)
		if err == nil && status.CapabilitiesEnabled {
			return nil, common.NewConflictError("payout account already connected")
		}
	}

	account, err := s.gateway.CreateConnectedAccount(ctx, email, userID.String())
	if err != nil {
		return nil, common.NewPaymentError("failed to create payout account", err)
	}

	if err := s.repo.SetUserPayoutAccount(ctx, userID, account.AccountID, false); err != nil {
		return nil, err
	}
	return account, nil
}

// BankStatus reports the connected-account onboarding state.
func (s *Service) BankStatus(ctx context.Context, userID uuid.UUID) (*AccountStatus, error) {
	accountID, enabled, err := s.repo.GetUserPayoutAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if accountID == nil {
		return &AccountStatus{}, nil
	}

	status, err := s.gateway.GetAccount(ctx, *accountID)
	if err != nil {
		return nil, common.NewPaymentError("failed to fetch account status", err)
	}

	if status.CapabilitiesEnabled != enabled {
		if uerr := s.repo.SetUserPayoutAccount(ctx, userID, *accountID, status.CapabilitiesEnabled); uerr != nil {
			logger.ErrorContext(ctx, "failed to sync payout account status", zap.Error(uerr))
		}
	}
	return status, nil
}

func (s *Service) invalidateWalletCache(ctx context.Context, userID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.Keys.Wallet(userID.String())); err != nil {
		logger.WarnContext(ctx, "wallet cache invalidation failed", zap.Error(err))
	}
}

func arrivalDelay(method models.PayoutMethod) time.Duration {
	if method == models.PayoutInstant {
		return 30 * time.Minute
	}
	return 72 * time.Hour
}

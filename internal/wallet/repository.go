package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/models"
)

// ComputeFee splits a gross amount into platform fee and driver net using
// integer round-half-up math. fee + net always equals gross exactly.
func ComputeFee(gross, feePercent int64) (fee, net int64) {
	if gross <= 0 {
		return 0, gross
	}
	fee = (gross*feePercent + 50) / 100
	return fee, gross - fee
}

// Repository is the ledger store. Wallet balances are derived from the
// append-only wallet_transactions log; the two writes always happen in one
// database transaction.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new wallet repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetWalletByUserID returns the user's wallet, materializing an empty one on
// first access.
func (r *Repository) GetWalletByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO wallets (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize wallet: %w", err)
	}

	return r.getWallet(ctx, r.db, userID)
}

type queryRunner interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) getWallet(ctx context.Context, q queryRunner, userID uuid.UUID) (*models.Wallet, error) {
	wallet := &models.Wallet{}
	err := q.QueryRow(ctx, `
		SELECT id, user_id, balance, pending_balance, total_earned, total_withdrawn,
		       currency, is_active, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID).Scan(
		&wallet.ID,
		&wallet.UserID,
		&wallet.Balance,
		&wallet.PendingBalance,
		&wallet.TotalEarned,
		&wallet.TotalWithdrawn,
		&wallet.Currency,
		&wallet.IsActive,
		&wallet.CreatedAt,
		&wallet.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("wallet not found", err)
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return wallet, nil
}

// ApplyTx appends a ledger entry inside the caller's transaction. It locks the
// wallet row, rejects debits that would take the balance negative, inserts the
// transaction row and updates the wallet totals as one unit. Cross-package
// transactional flows (wallet booking payment, offer acceptance) reuse it
// inside their own pgx.Tx.
func ApplyTx(ctx context.Context, tx pgx.Tx, txn *models.Transaction) error {
	var walletID uuid.UUID
	var balance int64
	err := tx.QueryRow(ctx, `
		SELECT id, balance FROM wallets WHERE user_id = $1 FOR UPDATE
	`, txn.UserID).Scan(&walletID, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Materialize inside the same transaction so first-time earners
			// can be credited.
			walletID = uuid.New()
			_, err = tx.Exec(ctx, `INSERT INTO wallets (id, user_id) VALUES ($1, $2)`, walletID, txn.UserID)
			if err != nil {
				return fmt.Errorf("failed to create wallet: %w", err)
			}
			balance = 0
		} else {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}
	}
	txn.WalletID = walletID

	// Pending withdrawals hold funds immediately so the balance cannot be
	// spent twice while the payout is in flight.
	affectsBalance := txn.Status == models.TxStatusCompleted ||
		(txn.Kind == models.TxWithdrawal && txn.Status == models.TxStatusPending)
	if affectsBalance && balance+txn.Amount < 0 {
		return common.NewCapacityError(common.CodeInsufficientBalance, "insufficient wallet balance", common.ErrInsufficientBalance)
	}

	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	now := time.Now().UTC()
	if txn.Status == models.TxStatusCompleted && txn.ProcessedAt == nil {
		txn.ProcessedAt = &now
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (
			id, wallet_id, user_id, kind, amount, gross_amount, fee_amount,
			fee_percentage, net_amount, currency, status, reference_kind,
			reference_id, psp_intent_id, psp_transfer_id, psp_payout_id,
			description, processed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at
	`,
		txn.ID, txn.WalletID, txn.UserID, txn.Kind, txn.Amount, txn.GrossAmount,
		txn.FeeAmount, txn.FeePercentage, txn.NetAmount, txn.Currency, txn.Status,
		txn.ReferenceKind, txn.ReferenceID, txn.PSPIntentID, txn.PSPTransferID,
		txn.PSPPayoutID, txn.Description, txn.ProcessedAt,
	).Scan(&txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	if !affectsBalance {
		return nil
	}

	earned := int64(0)
	withdrawn := int64(0)
	switch txn.Kind {
	case models.TxRideEarning, models.TxBonus:
		earned = txn.Amount
	case models.TxWithdrawal:
		withdrawn = -txn.Amount
	case models.TxWithdrawalFailed:
		// Reversal credit: undo the withdrawn total along with the balance.
		withdrawn = -txn.Amount
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance + $1,
		    total_earned = total_earned + $2,
		    total_withdrawn = total_withdrawn + $3,
		    updated_at = NOW()
		WHERE id = $4
	`, txn.Amount, earned, withdrawn, walletID)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}

	return nil
}

// ApplyLedger writes a ledger entry inside the caller's transaction.
func (r *Repository) ApplyLedger(ctx context.Context, tx pgx.Tx, txn *models.Transaction) error {
	return ApplyTx(ctx, tx, txn)
}

// Append writes a single ledger entry in its own transaction.
func (r *Repository) Append(ctx context.Context, txn *models.Transaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := ApplyTx(ctx, tx, txn); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CompleteTransaction marks a pending ledger entry completed. The balance was
// already adjusted when the entry was appended (withdrawal hold), so only the
// status flips.
func (r *Repository) CompleteTransaction(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = 'completed', processed_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to complete transaction: %w", err)
	}
	return nil
}

// FailTransaction marks a pending ledger entry failed.
func (r *Repository) FailTransaction(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = 'failed', processed_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to fail transaction: %w", err)
	}
	return nil
}

// ExistsByIntentID reports whether a ledger entry of the given kind already
// references the PSP intent. Used as the idempotency guard on settlement.
func (r *Repository) ExistsByIntentID(ctx context.Context, intentID string, kind models.TransactionKind) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wallet_transactions WHERE psp_intent_id = $1 AND kind = $2
		)
	`, intentID, kind).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction existence: %w", err)
	}
	return exists, nil
}

// GetEarningByReference finds the completed ride_earning entry for a booking
// or request, used to size the driver-side refund reversal.
func (r *Repository) GetEarningByReference(ctx context.Context, refKind models.ReferenceKind, refID uuid.UUID) (*models.Transaction, error) {
	txn := &models.Transaction{}
	err := r.db.QueryRow(ctx, `
		SELECT id, wallet_id, user_id, kind, amount, gross_amount, fee_amount,
		       fee_percentage, net_amount, currency, status, reference_kind,
		       reference_id, psp_intent_id, psp_transfer_id, psp_payout_id,
		       description, processed_at, created_at
		FROM wallet_transactions
		WHERE reference_kind = $1 AND reference_id = $2
		  AND kind = 'ride_earning' AND status = 'completed'
		ORDER BY created_at DESC
		LIMIT 1
	`, refKind, refID).Scan(
		&txn.ID, &txn.WalletID, &txn.UserID, &txn.Kind, &txn.Amount,
		&txn.GrossAmount, &txn.FeeAmount, &txn.FeePercentage, &txn.NetAmount,
		&txn.Currency, &txn.Status, &txn.ReferenceKind, &txn.ReferenceID,
		&txn.PSPIntentID, &txn.PSPTransferID, &txn.PSPPayoutID,
		&txn.Description, &txn.ProcessedAt, &txn.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get earning transaction: %w", err)
	}
	return txn, nil
}

// ListTransactions returns the user's ledger entries, newest first.
func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, filter *models.TransactionFilter, limit, offset int) ([]*models.Transaction, int64, error) {
	where := "WHERE user_id = $1"
	args := []interface{}{userID}
	argc := 2

	if filter != nil && filter.Kind != nil {
		where += fmt.Sprintf(" AND kind = $%d", argc)
		args = append(args, *filter.Kind)
		argc++
	}
	if filter != nil && filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argc)
		args = append(args, *filter.Status)
		argc++
	}

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM wallet_transactions "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, wallet_id, user_id, kind, amount, gross_amount, fee_amount,
		       fee_percentage, net_amount, currency, status, reference_kind,
		       reference_id, psp_intent_id, psp_transfer_id, psp_payout_id,
		       description, processed_at, created_at
		FROM wallet_transactions
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, argc, argc+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txns := make([]*models.Transaction, 0)
	for rows.Next() {
		txn := &models.Transaction{}
		err := rows.Scan(
			&txn.ID, &txn.WalletID, &txn.UserID, &txn.Kind, &txn.Amount,
			&txn.GrossAmount, &txn.FeeAmount, &txn.FeePercentage, &txn.NetAmount,
			&txn.Currency, &txn.Status, &txn.ReferenceKind, &txn.ReferenceID,
			&txn.PSPIntentID, &txn.PSPTransferID, &txn.PSPPayoutID,
			&txn.Description, &txn.ProcessedAt, &txn.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}

	return txns, total, nil
}

// RecomputeBalance sums the balance-affecting ledger entries of a wallet. An
// audit query: the result must always equal the stored balance. Withdrawal
// holds debit the balance while still pending, and a failed hold nets to zero
// against its completed reversal, so both count alongside completed entries.
func (r *Repository) RecomputeBalance(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM wallet_transactions
		WHERE wallet_id = $1
		  AND (status = 'completed'
		       OR (kind = 'withdrawal' AND status IN ('pending', 'failed')))
	`, walletID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to recompute balance: %w", err)
	}
	return sum, nil
}

// CreatePayout inserts a payout row.
func (r *Repository) CreatePayout(ctx context.Context, payout *models.Payout) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO payouts (
			id, user_id, wallet_id, amount, currency, status, psp_payout_id,
			psp_transfer_id, method, failure_reason, estimated_arrival, transaction_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`,
		payout.ID, payout.UserID, payout.WalletID, payout.Amount, payout.Currency,
		payout.Status, payout.PSPPayoutID, payout.PSPTransferID, payout.Method,
		payout.FailureReason, payout.EstimatedArrival, payout.TransactionID,
	).Scan(&payout.CreatedAt, &payout.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payout: %w", err)
	}
	return nil
}

// UpdatePayoutStatus transitions a payout.
func (r *Repository) UpdatePayoutStatus(ctx context.Context, id uuid.UUID, status models.PayoutStatus, failureReason *string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payouts SET status = $1, failure_reason = $2, updated_at = NOW() WHERE id = $3
	`, status, failureReason, id)
	if err != nil {
		return fmt.Errorf("failed to update payout status: %w", err)
	}
	return nil
}

// AttachTransferToPayout records the PSP transfer id on a payout.
func (r *Repository) AttachTransferToPayout(ctx context.Context, payoutID uuid.UUID, transferID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payouts SET psp_transfer_id = $1, updated_at = NOW() WHERE id = $2
	`, transferID, payoutID)
	if err != nil {
		return fmt.Errorf("failed to attach transfer: %w", err)
	}
	return nil
}

// GetPayoutByPSPID finds a payout by the PSP payout or transfer id.
func (r *Repository) GetPayoutByPSPID(ctx context.Context, pspID string) (*models.Payout, error) {
	payout := &models.Payout{}
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, wallet_id, amount, currency, status, psp_payout_id,
		       psp_transfer_id, method, failure_reason, estimated_arrival,
		       transaction_id, created_at, updated_at
		FROM payouts
		WHERE psp_payout_id = $1 OR psp_transfer_id = $1
	`, pspID).Scan(
		&payout.ID, &payout.UserID, &payout.WalletID, &payout.Amount,
		&payout.Currency, &payout.Status, &payout.PSPPayoutID,
		&payout.PSPTransferID, &payout.Method, &payout.FailureReason,
		&payout.EstimatedArrival, &payout.TransactionID,
		&payout.CreatedAt, &payout.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("payout not found", err)
		}
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return payout, nil
}

// ListPayouts returns the user's payouts, newest first.
func (r *Repository) ListPayouts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Payout, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM payouts WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payouts: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, wallet_id, amount, currency, status, psp_payout_id,
		       psp_transfer_id, method, failure_reason, estimated_arrival,
		       transaction_id, created_at, updated_at
		FROM payouts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payouts: %w", err)
	}
	defer rows.Close()

	payouts := make([]*models.Payout, 0)
	for rows.Next() {
		payout := &models.Payout{}
		err := rows.Scan(
			&payout.ID, &payout.UserID, &payout.WalletID, &payout.Amount,
			&payout.Currency, &payout.Status, &payout.PSPPayoutID,
			&payout.PSPTransferID, &payout.Method, &payout.FailureReason,
			&payout.EstimatedArrival, &payout.TransactionID,
			&payout.CreatedAt, &payout.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, payout)
	}

	return payouts, total, nil
}

// GetEarningsSummary aggregates the wallet and counts settled ride earnings.
func (r *Repository) GetEarningsSummary(ctx context.Context, userID uuid.UUID) (*models.EarningsSummary, error) {
	wallet, err := r.GetWalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var ridesPaidOut int
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM wallet_transactions
		WHERE user_id = $1 AND kind = 'ride_earning' AND status = 'completed'
	`, userID).Scan(&ridesPaidOut)
	if err != nil {
		return nil, fmt.Errorf("failed to count ride earnings: %w", err)
	}

	return &models.EarningsSummary{
		TotalEarned:    wallet.TotalEarned,
		TotalWithdrawn: wallet.TotalWithdrawn,
		Balance:        wallet.Balance,
		PendingBalance: wallet.PendingBalance,
		RidesPaidOut:   ridesPaidOut,
	}, nil
}

// GetUserPayoutAccount returns the user's connected account id and payout flag.
func (r *Repository) GetUserPayoutAccount(ctx context.Context, userID uuid.UUID) (*string, bool, error) {
	var accountID *string
	var enabled bool
	err := r.db.QueryRow(ctx, `
		SELECT stripe_account_id, payouts_enabled FROM users WHERE id = $1
	`, userID).Scan(&accountID, &enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, common.NewNotFoundError("user not found", err)
		}
		return nil, false, fmt.Errorf("failed to get payout account: %w", err)
	}
	return accountID, enabled, nil
}

// SetUserPayoutAccount stores the connected account id for a user.
func (r *Repository) SetUserPayoutAccount(ctx context.Context, userID uuid.UUID, accountID string, enabled bool) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users SET stripe_account_id = $1, payouts_enabled = $2, updated_at = NOW() WHERE id = $3
	`, accountID, enabled, userID)
	if err != nil {
		return fmt.Errorf("failed to set payout account: %w", err)
	}
	return nil
}

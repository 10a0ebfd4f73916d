package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a user's internal balance in integer minor units. Balance is
// derived state: it always equals the sum of completed transactions.
type Wallet struct {
	ID             uuid.UUID `json:"id" db:"id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	Balance        int64     `json:"balance" db:"balance"`
	PendingBalance int64     `json:"pending_balance" db:"pending_balance"`
	TotalEarned    int64     `json:"total_earned" db:"total_earned"`
	TotalWithdrawn int64     `json:"total_withdrawn" db:"total_withdrawn"`
	Currency       string    `json:"currency" db:"currency"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// TransactionKind classifies ledger entries.
type TransactionKind string

const (
	TxRideEarning      TransactionKind = "ride_earning"
	TxRidePayment      TransactionKind = "ride_payment"
	TxPlatformFee      TransactionKind = "platform_fee"
	TxWithdrawal       TransactionKind = "withdrawal"
	TxWithdrawalFailed TransactionKind = "withdrawal_failed"
	TxRefund           TransactionKind = "refund"
	TxBonus            TransactionKind = "bonus"
	TxAdjustment       TransactionKind = "adjustment"
)

// TransactionStatus is the settlement state of a ledger entry.
type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusFailed    TransactionStatus = "failed"
	TxStatusCancelled TransactionStatus = "cancelled"
)

// ReferenceKind names the aggregate a transaction refers to.
type ReferenceKind string

const (
	RefBooking ReferenceKind = "booking"
	RefRide    ReferenceKind = "ride"
	RefRequest ReferenceKind = "request"
	RefPayout  ReferenceKind = "payout"
	RefRefund  ReferenceKind = "refund"
	RefManual  ReferenceKind = "manual"
)

// Transaction is an append-only ledger entry. Amount is signed minor units;
// once status is completed the row is immutable.
type Transaction struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	WalletID      uuid.UUID         `json:"wallet_id" db:"wallet_id"`
	UserID        uuid.UUID         `json:"user_id" db:"user_id"`
	Kind          TransactionKind   `json:"kind" db:"kind"`
	Amount        int64             `json:"amount" db:"amount"`
	GrossAmount   int64             `json:"gross_amount" db:"gross_amount"`
	FeeAmount     int64             `json:"fee_amount" db:"fee_amount"`
	FeePercentage int64             `json:"fee_percentage" db:"fee_percentage"`
	NetAmount     int64             `json:"net_amount" db:"net_amount"`
	Currency      string            `json:"currency" db:"currency"`
	Status        TransactionStatus `json:"status" db:"status"`
	ReferenceKind ReferenceKind     `json:"reference_kind" db:"reference_kind"`
	ReferenceID   *uuid.UUID        `json:"reference_id,omitempty" db:"reference_id"`
	PSPIntentID   *string           `json:"psp_intent_id,omitempty" db:"psp_intent_id"`
	PSPTransferID *string           `json:"psp_transfer_id,omitempty" db:"psp_transfer_id"`
	PSPPayoutID   *string           `json:"psp_payout_id,omitempty" db:"psp_payout_id"`
	Description   string            `json:"description" db:"description"`
	ProcessedAt   *time.Time        `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// PayoutStatus is the settlement state of a withdrawal.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

// PayoutMethod selects the settlement speed.
type PayoutMethod string

const (
	PayoutStandard PayoutMethod = "standard"
	PayoutInstant  PayoutMethod = "instant"
)

// Payout is a withdrawal from wallet balance to a connected account.
type Payout struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	UserID           uuid.UUID    `json:"user_id" db:"user_id"`
	WalletID         uuid.UUID    `json:"wallet_id" db:"wallet_id"`
	Amount           int64        `json:"amount" db:"amount"`
	Currency         string       `json:"currency" db:"currency"`
	Status           PayoutStatus `json:"status" db:"status"`
	PSPPayoutID      *string      `json:"psp_payout_id,omitempty" db:"psp_payout_id"`
	PSPTransferID    *string      `json:"psp_transfer_id,omitempty" db:"psp_transfer_id"`
	Method           PayoutMethod `json:"method" db:"method"`
	FailureReason    *string      `json:"failure_reason,omitempty" db:"failure_reason"`
	EstimatedArrival *time.Time   `json:"estimated_arrival,omitempty" db:"estimated_arrival"`
	TransactionID    uuid.UUID    `json:"transaction_id" db:"transaction_id"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// WithdrawRequest asks to move wallet balance to the connected account.
type WithdrawRequest struct {
	Amount int64        `json:"amount" binding:"required,min=100"`
	Method PayoutMethod `json:"method" binding:"omitempty,oneof=standard instant"`
}

// TransactionFilter narrows ledger listings.
type TransactionFilter struct {
	Kind   *TransactionKind   `form:"kind"`
	Status *TransactionStatus `form:"status"`
}

// EarningsSummary aggregates a driver's wallet activity.
type EarningsSummary struct {
	TotalEarned    int64 `json:"total_earned"`
	TotalWithdrawn int64 `json:"total_withdrawn"`
	Balance        int64 `json:"balance"`
	PendingBalance int64 `json:"pending_balance"`
	RidesPaidOut   int   `json:"rides_paid_out"`
}

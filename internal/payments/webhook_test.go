package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/models"
)

type mockWebhookRepo struct {
	mock.Mock
}

func (m *mockWebhookRepo) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	args := m.Called(ctx, eventID, eventType)
	return args.Bool(0), args.Error(1)
}

func (m *mockWebhookRepo) ClearEvent(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func (m *mockWebhookRepo) GetBookingByIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockWebhookRepo) SetBookingPaymentFailed(ctx context.Context, intentID string) error {
	args := m.Called(ctx, intentID)
	return args.Error(0)
}

func (m *mockWebhookRepo) GetRideDriver(ctx context.Context, rideID uuid.UUID) (uuid.UUID, error) {
	args := m.Called(ctx, rideID)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *mockWebhookRepo) SetUserPayoutAccount(ctx context.Context, accountID string, enabled bool) error {
	args := m.Called(ctx, accountID, enabled)
	return args.Error(0)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Append(ctx context.Context, txn *models.Transaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *mockLedger) ExistsByIntentID(ctx context.Context, intentID string, kind models.TransactionKind) (bool, error) {
	args := m.Called(ctx, intentID, kind)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) GetEarningByReference(ctx context.Context, refKind models.ReferenceKind, refID uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, refKind, refID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *mockLedger) GetPayoutByPSPID(ctx context.Context, pspID string) (*models.Payout, error) {
	args := m.Called(ctx, pspID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payout), args.Error(1)
}

func (m *mockLedger) UpdatePayoutStatus(ctx context.Context, id uuid.UUID, status models.PayoutStatus, failureReason *string) error {
	args := m.Called(ctx, id, status, failureReason)
	return args.Error(0)
}

func (m *mockLedger) AttachTransferToPayout(ctx context.Context, payoutID uuid.UUID, transferID string) error {
	args := m.Called(ctx, payoutID, transferID)
	return args.Error(0)
}

func (m *mockLedger) CompleteTransaction(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockLedger) FailTransaction(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

const testSigningSecret = "whsec_test_secret"

func newReconciler(repo RepositoryInterface, ledger LedgerInterface) *Reconciler {
	return NewReconciler(repo, ledger, testSigningSecret, 10, "eur")
}

func signedEvent(t *testing.T, eventID, eventType string, object any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(object)
	assert.NoError(t, err)

	body := []byte(fmt.Sprintf(`{"id":%q,"object":"event","api_version":%q,"type":%q,"data":{"object":%s}}`,
		eventID, stripe.APIVersion, eventType, raw))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    testSigningSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestReconciler_DuplicateEventSkipped(t *testing.T) {
	repo := new(mockWebhookRepo)
	ledger := new(mockLedger)
	r := newReconciler(repo, ledger)

	payload, header := signedEvent(t, "evt_dup", "payment_intent.succeeded", map[string]any{
		"id":     "pi_dup",
		"amount": 4000,
	})

	repo.On("MarkEventProcessed", mock.Anything, "evt_dup", "payment_intent.succeeded").Return(false, nil)

	err := r.HandleEvent(context.Background(), payload, header)

	assert.NoError(t, err)
	ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestReconciler_HandlerErrorClearsEventForRedelivery(t *testing.T) {
	repo := new(mockWebhookRepo)
	ledger := new(mockLedger)
	r := newReconciler(repo, ledger)

	payload, header := signedEvent(t, "evt_retry", "payment_intent.payment_failed", map[string]any{
		"id": "pi_retry",
	})

	repo.On("MarkEventProcessed", mock.Anything, "evt_retry", "payment_intent.payment_failed").Return(true, nil)
	repo.On("SetBookingPaymentFailed", mock.Anything, "pi_retry").Return(fmt.Errorf("connection reset")).Once()
	repo.On("ClearEvent", mock.Anything, "evt_retry").Return(nil)

	err := r.HandleEvent(context.Background(), payload, header)
	assert.Error(t, err)
	repo.AssertCalled(t, "ClearEvent", mock.Anything, "evt_retry")

	// Redelivery is first-seen again and settles cleanly.
	repo.On("SetBookingPaymentFailed", mock.Anything, "pi_retry").Return(nil).Once()
	err = r.HandleEvent(context.Background(), payload, header)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestReconciler_InvalidSignatureRejected(t *testing.T) {
	r := newReconciler(new(mockWebhookRepo), new(mockLedger))

	err := r.HandleEvent(context.Background(), []byte(`{"id":"evt_1"}`), "t=1,v1=bogus")

	assert.Error(t, err)
	appErr, ok := err.(*common.AppError)
	assert.True(t, ok)
	assert.Equal(t, common.CodeUnauthorized, appErr.ErrorCode)
}

func TestReconciler_IntentSucceeded_CreditsDriverNet(t *testing.T) {
	repo := new(mockWebhookRepo)
	ledger := new(mockLedger)
	r := newReconciler(repo, ledger)

	ctx := context.Background()
	driverID := uuid.New()
	bookingID := uuid.New()
	rideID := uuid.New()

	ledger.On("ExistsByIntentID", ctx, "pi_1", models.TxRideEarning).Return(false, nil)
	repo.On("GetBookingByIntentID", ctx, "pi_1").Return(&models.Booking{ID: bookingID, RideID: rideID}, nil)
	repo.On("GetRideDriver", ctx, rideID).Return(driverID, nil)
	ledger.On("Append", ctx, mock.MatchedBy(func(txn *models.Transaction) bool {
		return txn.UserID == driverID &&
			txn.Kind == models.TxRideEarning &&
			txn.Amount == 3600 &&
			txn.GrossAmount == 4000 &&
			txn.FeeAmount == 400 &&
			txn.Status == models.TxStatusCompleted
	})).Return(nil)

	raw, _ := json.Marshal(map[string]any{"id": "pi_1", "amount": 4000})
	err := r.handleIntentSucceeded(ctx, raw)

	assert.NoError(t, err)
	ledger.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestReconciler_IntentSucceeded_SplitSkipsWalletCredit(t *testing.T) {
	repo := new(mockWebhookRepo)
	ledger := new(mockLedger)
	r := newReconciler(repo, ledger)

	raw, _ := json.Marshal(map[string]any{
		"id":     "pi_split",
		"amount": 4000,
		"transfer_data": map[string]any{
			"destination": map[string]any{"id": "acct_driver"},
		},
	})
	err := r.handleIntentSucceeded(context.Background(), raw)

	assert.NoError(t, err)
	ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestReconciler_IntentSucceeded_AlreadyCredited(t *testing.T) {
	repo := new(mockWebhookRepo)
	ledger := new(mockLedger)
	r := newReconciler(repo, ledger)

	ctx := context.Background()
	ledger.On("ExistsByIntentID", ctx, "pi_1", models.TxRideEarning).Return(true, nil)

	raw, _ := json.Marshal(map[string]any{"id": "pi_1", "amount": 4000})
	err := r.handleIntentSucceeded(ctx, raw)

	assert.NoError(t, err)
	ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestReconciler_IntentSucceeded_FallsBackToRideMetadata(t *testing.T) {
	repo := new(mockWebhookRepo)
	ledger := new(mockLedger)
	r := newReconciler(repo, ledger)

	ctx := context.Background()
	driverID := uuid.New()
	rideID := uuid.New()

	ledger.On("ExistsByIntentID", ctx, "pi_meta", models.TxRideEarning).Return(false, nil)
	repo.On("GetBookingByIntentID", ctx, "pi_meta").
		Return(nil, common.NewNotFoundError("booking not found for payment intent", nil))
	repo.On("GetRideDriver", ctx, rideID).Return(driverID, nil)
	ledger.On("Append", ctx, mock.MatchedBy(func(txn *models.Transaction) bool {
		return txn.UserID == driverID && txn.ReferenceKind == models.RefRide
	})).Return(nil)

	raw, _ := json.Marshal(map[string]any{
		"id":       "pi_meta",
		"amount":   2000,
		"metadata": map[string]string{"kind": "booking", "ride_id": rideID.String()},
	})
	err := r.handleIntentSucceeded(ctx, raw)

	assert.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestReconciler_IntentFailed_MarksBooking(t *testing.T) {
	repo := new(mockWebhookRepo)
	r := newReconciler(repo, new(mockLedger))

	ctx := context.Background()
	repo.On("SetBookingPaymentFailed", ctx, "pi_fail").Return(nil)

	raw, _ := json.Marshal(map[string]any{"id": "pi_fail"})
	err := r.handleIntentFailed(ctx, raw)

	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestReconciler_ChargeRefunded_DebitsDriverShare(t *testing.T) {
	repo := new(mockWebhookRepo)
	ledger := new(mockLedger)
	r := newReconciler(repo, ledger)

	ctx := context.Background()
	driverID := uuid.New()
	bookingID := uuid.New()

	ledger.On("ExistsByIntentID", ctx, "pi_ext", models.TxRefund).Return(false, nil)
	repo.On("GetBookingByIntentID", ctx, "pi_ext").Return(&models.Booking{ID: bookingID}, nil)
	ledger.On("GetEarningByReference", ctx, models.RefBooking, bookingID).
		Return(&models.Transaction{UserID: driverID, Amount: 3600}, nil)
	ledger.On("Append", ctx, mock.MatchedBy(func(txn *models.Transaction) bool {
		return txn.UserID == driverID &&
			txn.Kind == models.TxRefund &&
			txn.Amount == -3600 &&
			txn.Status == models.TxStatusCompleted &&
			txn.PSPIntentID != nil && *txn.PSPIntentID == "pi_ext"
	})).Return(nil)

	raw, _ := json.Marshal(map[string]any{
		"id":              "ch_ext",
		"amount_refunded": 4000,
		"payment_intent":  map[string]any{"id": "pi_ext"},
	})
	err := r.handleChargeRefunded(ctx, raw)

	assert.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestReconciler_ChargeRefunded_LocalRefundNotDoubled(t *testing.T) {
	repo := new(mockWebhookRepo)
	ledger := new(mockLedger)
	r := newReconciler(repo, ledger)

	ctx := context.Background()
	ledger.On("ExistsByIntentID", ctx, "pi_local", models.TxRefund).Return(true, nil)

	raw, _ := json.Marshal(map[string]any{
		"id":              "ch_local",
		"amount_refunded": 4000,
		"payment_intent":  map[string]any{"id": "pi_local"},
	})
	err := r.handleChargeRefunded(ctx, raw)

	assert.NoError(t, err)
	ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "GetBookingByIntentID", mock.Anything, mock.Anything)
}

func TestReconciler_ChargeRefunded_SplitChargeSkipsWallet(t *testing.T) {
	repo := new(mockWebhookRepo)
	ledger := new(mockLedger)
	r := newReconciler(repo, ledger)

	ctx := context.Background()
	bookingID := uuid.New()

	ledger.On("ExistsByIntentID", ctx, "pi_split_rf", models.TxRefund).Return(false, nil)
	repo.On("GetBookingByIntentID", ctx, "pi_split_rf").Return(&models.Booking{ID: bookingID}, nil)
	ledger.On("GetEarningByReference", ctx, models.RefBooking, bookingID).Return(nil, nil)

	raw, _ := json.Marshal(map[string]any{
		"id":              "ch_split_rf",
		"amount_refunded": 4000,
		"payment_intent":  map[string]any{"id": "pi_split_rf"},
	})
	err := r.handleChargeRefunded(ctx, raw)

	assert.NoError(t, err)
	ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestReconciler_PayoutPaid_CompletesWithdrawal(t *testing.T) {
	ledger := new(mockLedger)
	r := newReconciler(new(mockWebhookRepo), ledger)

	ctx := context.Background()
	payoutID := uuid.New()
	txnID := uuid.New()

	ledger.On("GetPayoutByPSPID", ctx, "po_1").Return(&models.Payout{
		ID:            payoutID,
		Status:        models.PayoutStatusProcessing,
		TransactionID: txnID,
	}, nil)
	ledger.On("UpdatePayoutStatus", ctx, payoutID, models.PayoutStatusCompleted, (*string)(nil)).Return(nil)
	ledger.On("CompleteTransaction", ctx, txnID).Return(nil)

	raw, _ := json.Marshal(map[string]any{"id": "po_1"})
	err := r.handlePayoutPaid(ctx, raw)

	assert.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestReconciler_PayoutFailed_ReversesHold(t *testing.T) {
	ledger := new(mockLedger)
	r := newReconciler(new(mockWebhookRepo), ledger)

	ctx := context.Background()
	userID := uuid.New()
	payoutID := uuid.New()
	txnID := uuid.New()

	ledger.On("GetPayoutByPSPID", ctx, "po_fail").Return(&models.Payout{
		ID:            payoutID,
		UserID:        userID,
		Amount:        2000,
		Currency:      "eur",
		Status:        models.PayoutStatusProcessing,
		TransactionID: txnID,
	}, nil)
	ledger.On("UpdatePayoutStatus", ctx, payoutID, models.PayoutStatusFailed, mock.Anything).Return(nil)
	ledger.On("FailTransaction", ctx, txnID).Return(nil)
	ledger.On("Append", ctx, mock.MatchedBy(func(txn *models.Transaction) bool {
		return txn.Kind == models.TxWithdrawalFailed &&
			txn.Amount == 2000 &&
			txn.UserID == userID &&
			txn.Status == models.TxStatusCompleted
	})).Return(nil)

	raw, _ := json.Marshal(map[string]any{"id": "po_fail", "failure_code": "account_closed"})
	err := r.handlePayoutFailed(ctx, raw)

	assert.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestReconciler_AccountUpdated_SyncsCapabilities(t *testing.T) {
	repo := new(mockWebhookRepo)
	r := newReconciler(repo, new(mockLedger))

	ctx := context.Background()
	repo.On("SetUserPayoutAccount", ctx, "acct_1", true).Return(nil)

	raw, _ := json.Marshal(map[string]any{
		"id":              "acct_1",
		"payouts_enabled": true,
		"charges_enabled": true,
	})
	err := r.handleAccountUpdated(ctx, raw)

	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

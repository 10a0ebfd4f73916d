package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/internal/wallet"
	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/eventbus"
	"github.com/aeroride/carpool/pkg/logger"
	"github.com/aeroride/carpool/pkg/models"
)

// Reconciler applies PSP webhook events to local state. Every handler is
// idempotent: events are deduplicated by id, and ledger credits carry an
// intent-scoped existence guard on top.
type Reconciler struct {
	repo          RepositoryInterface
	ledger        LedgerInterface
	eventBus      *eventbus.Bus
	signingSecret string
	feePercent    int64
	currency      string
}

// NewReconciler creates a new webhook reconciler
func NewReconciler(repo RepositoryInterface, ledger LedgerInterface, signingSecret string, feePercent int64, currency string) *Reconciler {
	return &Reconciler{
		repo:          repo,
		ledger:        ledger,
		signingSecret: signingSecret,
		feePercent:    feePercent,
		currency:      currency,
	}
}

// SetEventBus sets the NATS event bus for publishing settlement events.
func (r *Reconciler) SetEventBus(bus *eventbus.Bus) {
	r.eventBus = bus
}

// publishEvent publishes an event asynchronously; a nil bus is a no-op.
func (r *Reconciler) publishEvent(subject string, data interface{}) {
	if r.eventBus == nil {
		return
	}
	go func() {
		evt, err := eventbus.NewEvent(subject, "payments", data)
		if err != nil {
			logger.Warn("failed to create settlement event", zap.String("subject", subject), zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.eventBus.Publish(ctx, subject, evt); err != nil {
			logger.Warn("failed to publish settlement event", zap.String("subject", subject), zap.Error(err))
		}
	}()
}

// HandleEvent verifies the webhook signature and dispatches the event. A nil
// return acknowledges the event to the PSP; errors trigger redelivery.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := webhook.ConstructEvent(payload, signatureHeader, r.signingSecret)
	if err != nil {
		return common.NewUnauthorizedError("invalid webhook signature")
	}

	firstSeen, err := r.repo.MarkEventProcessed(ctx, event.ID, string(event.Type))
	if err != nil {
		return err
	}
	if !firstSeen {
		logger.InfoContext(ctx, "skipping duplicate webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
		return nil
	}

	logger.InfoContext(ctx, "processing webhook event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)))

	if err := r.dispatch(ctx, &event); err != nil {
		// The dedupe row must not survive a failed handler, or the PSP's
		// redelivery would be skipped as a duplicate.
		if clearErr := r.repo.ClearEvent(ctx, event.ID); clearErr != nil {
			logger.ErrorContext(ctx, "failed to clear webhook event after handler error",
				zap.String("event_id", event.ID),
				zap.Error(clearErr))
		}
		return err
	}
	return nil
}

func (r *Reconciler) dispatch(ctx context.Context, event *stripe.Event) error {
	switch string(event.Type) {
	case "payment_intent.succeeded":
		return r.handleIntentSucceeded(ctx, event.Data.Raw)
	case "payment_intent.payment_failed":
		return r.handleIntentFailed(ctx, event.Data.Raw)
	case "charge.refunded":
		return r.handleChargeRefunded(ctx, event.Data.Raw)
	case "transfer.created":
		return r.handleTransferCreated(ctx, event.Data.Raw)
	case "payout.paid":
		return r.handlePayoutPaid(ctx, event.Data.Raw)
	case "payout.failed":
		return r.handlePayoutFailed(ctx, event.Data.Raw)
	case "account.updated":
		return r.handleAccountUpdated(ctx, event.Data.Raw)
	default:
		logger.DebugContext(ctx, "ignoring unhandled webhook event type",
			zap.String("event_type", string(event.Type)))
		return nil
	}
}

// handleIntentSucceeded settles the driver side of a card payment. Split
// charges already routed funds to the connected account, so only unsplit
// intents credit the internal wallet.
func (r *Reconciler) handleIntentSucceeded(ctx context.Context, raw json.RawMessage) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return fmt.Errorf("failed to parse payment intent: %w", err)
	}

	if pi.TransferData != nil && pi.TransferData.Destination != nil {
		logger.InfoContext(ctx, "split intent settled on connected account",
			zap.String("payment_intent_id", pi.ID))
		return nil
	}

	exists, err := r.ledger.ExistsByIntentID(ctx, pi.ID, models.TxRideEarning)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	driverID, refKind, refID, err := r.resolveEarningTarget(ctx, &pi)
	if err != nil {
		return err
	}
	if driverID == uuid.Nil {
		// Offer settlements credit the driver when the passenger accepts,
		// inside the acceptance transaction.
		return nil
	}

	fee, net := wallet.ComputeFee(pi.Amount, r.feePercent)
	intentID := pi.ID
	txn := &models.Transaction{
		UserID:        driverID,
		Kind:          models.TxRideEarning,
		Amount:        net,
		GrossAmount:   pi.Amount,
		FeeAmount:     fee,
		FeePercentage: r.feePercent,
		NetAmount:     net,
		Currency:      r.currency,
		Status:        models.TxStatusCompleted,
		ReferenceKind: refKind,
		ReferenceID:   refID,
		PSPIntentID:   &intentID,
		Description:   "Ride earnings",
	}
	if err := r.ledger.Append(ctx, txn); err != nil {
		return err
	}

	logger.InfoContext(ctx, "credited driver earnings from webhook",
		zap.String("payment_intent_id", pi.ID),
		zap.String("driver_id", driverID.String()),
		zap.Int64("net_amount", net))
	r.publishEvent(eventbus.SubjectPaymentSucceeded, eventbus.PaymentEventData{
		ReferenceID: *refID,
		UserID:      driverID,
		Amount:      pi.Amount,
		Currency:    r.currency,
		PSPIntentID: pi.ID,
		OccurredAt:  time.Now().UTC(),
	})
	return nil
}

// resolveEarningTarget finds the driver a settled intent pays. The booking is
// the primary source; intent metadata covers the window before the booking
// row carries the intent id.
func (r *Reconciler) resolveEarningTarget(ctx context.Context, pi *stripe.PaymentIntent) (uuid.UUID, models.ReferenceKind, *uuid.UUID, error) {
	booking, err := r.repo.GetBookingByIntentID(ctx, pi.ID)
	if err == nil {
		driverID, derr := r.repo.GetRideDriver(ctx, booking.RideID)
		if derr != nil {
			return uuid.Nil, "", nil, derr
		}
		id := booking.ID
		return driverID, models.RefBooking, &id, nil
	}
	if !common.IsNotFound(err) {
		return uuid.Nil, "", nil, err
	}

	if rideRaw, ok := pi.Metadata["ride_id"]; ok {
		rideID, perr := uuid.Parse(rideRaw)
		if perr != nil {
			return uuid.Nil, "", nil, common.NewBadRequestError("malformed ride_id in intent metadata", perr)
		}
		driverID, derr := r.repo.GetRideDriver(ctx, rideID)
		if derr != nil {
			return uuid.Nil, "", nil, derr
		}
		return driverID, models.RefRide, &rideID, nil
	}

	return uuid.Nil, "", nil, nil
}

func (r *Reconciler) handleIntentFailed(ctx context.Context, raw json.RawMessage) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return fmt.Errorf("failed to parse payment intent: %w", err)
	}

	logger.WarnContext(ctx, "payment intent failed",
		zap.String("payment_intent_id", pi.ID))
	if err := r.repo.SetBookingPaymentFailed(ctx, pi.ID); err != nil {
		return err
	}

	// The booking lookup is only worth a round trip when someone listens.
	if r.eventBus != nil {
		if booking, berr := r.repo.GetBookingByIntentID(ctx, pi.ID); berr == nil {
			r.publishEvent(eventbus.SubjectPaymentFailed, eventbus.PaymentEventData{
				ReferenceID: booking.ID,
				UserID:      booking.PassengerID,
				Amount:      pi.Amount,
				Currency:    r.currency,
				PSPIntentID: pi.ID,
				OccurredAt:  time.Now().UTC(),
			})
		}
	}
	return nil
}

// handleChargeRefunded reverses the driver's earning for a refunded charge.
// Refunds initiated locally already wrote their ledger entries with the
// intent id attached, so the existence guard makes this a no-op for them;
// it only acts on refunds raised at the PSP (disputes, dashboard refunds).
func (r *Reconciler) handleChargeRefunded(ctx context.Context, raw json.RawMessage) error {
	var ch stripe.Charge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return fmt.Errorf("failed to parse charge: %w", err)
	}
	if ch.PaymentIntent == nil {
		logger.WarnContext(ctx, "refunded charge has no payment intent",
			zap.String("charge_id", ch.ID))
		return nil
	}
	intentID := ch.PaymentIntent.ID

	exists, err := r.ledger.ExistsByIntentID(ctx, intentID, models.TxRefund)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	booking, err := r.repo.GetBookingByIntentID(ctx, intentID)
	if err != nil {
		if common.IsNotFound(err) {
			logger.WarnContext(ctx, "charge.refunded for unknown booking",
				zap.String("payment_intent_id", intentID))
			return nil
		}
		return err
	}

	// No internal earning means the charge was split and the PSP reverses
	// the transfer on its side.
	earning, err := r.ledger.GetEarningByReference(ctx, models.RefBooking, booking.ID)
	if err != nil {
		return err
	}
	if earning == nil {
		logger.InfoContext(ctx, "refunded split charge settled at the psp",
			zap.String("payment_intent_id", intentID))
		return nil
	}

	_, driverShare := wallet.ComputeFee(ch.AmountRefunded, r.feePercent)
	if driverShare > earning.Amount {
		driverShare = earning.Amount
	}

	bookingID := booking.ID
	reversal := &models.Transaction{
		UserID:        earning.UserID,
		Kind:          models.TxRefund,
		Amount:        -driverShare,
		NetAmount:     -driverShare,
		Currency:      r.currency,
		Status:        models.TxStatusCompleted,
		ReferenceKind: models.RefBooking,
		ReferenceID:   &bookingID,
		PSPIntentID:   &intentID,
		Description:   "Earning reversed after refund",
	}
	if err := r.ledger.Append(ctx, reversal); err != nil {
		return err
	}

	logger.InfoContext(ctx, "reversed driver earning for external refund",
		zap.String("payment_intent_id", intentID),
		zap.String("driver_id", earning.UserID.String()),
		zap.Int64("amount", driverShare))
	r.publishEvent(eventbus.SubjectPaymentRefunded, eventbus.PaymentEventData{
		ReferenceID: booking.ID,
		UserID:      booking.PassengerID,
		Amount:      ch.AmountRefunded,
		Currency:    r.currency,
		PSPIntentID: intentID,
		OccurredAt:  time.Now().UTC(),
	})
	return nil
}

func (r *Reconciler) handleTransferCreated(ctx context.Context, raw json.RawMessage) error {
	var tr stripe.Transfer
	if err := json.Unmarshal(raw, &tr); err != nil {
		return fmt.Errorf("failed to parse transfer: %w", err)
	}

	payoutRaw, ok := tr.Metadata["payout_id"]
	if !ok {
		return nil
	}
	payoutID, err := uuid.Parse(payoutRaw)
	if err != nil {
		return common.NewBadRequestError("malformed payout_id in transfer metadata", err)
	}
	return r.ledger.AttachTransferToPayout(ctx, payoutID, tr.ID)
}

// handlePayoutPaid completes the withdrawal. The hold was placed at
// initiation, so only statuses flip here.
func (r *Reconciler) handlePayoutPaid(ctx context.Context, raw json.RawMessage) error {
	var po stripe.Payout
	if err := json.Unmarshal(raw, &po); err != nil {
		return fmt.Errorf("failed to parse payout: %w", err)
	}

	payout, err := r.ledger.GetPayoutByPSPID(ctx, po.ID)
	if err != nil {
		if common.IsNotFound(err) {
			logger.WarnContext(ctx, "payout.paid for unknown payout",
				zap.String("psp_payout_id", po.ID))
			return nil
		}
		return err
	}
	if payout.Status == models.PayoutStatusCompleted {
		return nil
	}

	if err := r.ledger.UpdatePayoutStatus(ctx, payout.ID, models.PayoutStatusCompleted, nil); err != nil {
		return err
	}
	return r.ledger.CompleteTransaction(ctx, payout.TransactionID)
}

// handlePayoutFailed reverses the withdrawal hold so the funds become
// spendable again.
func (r *Reconciler) handlePayoutFailed(ctx context.Context, raw json.RawMessage) error {
	var po stripe.Payout
	if err := json.Unmarshal(raw, &po); err != nil {
		return fmt.Errorf("failed to parse payout: %w", err)
	}

	payout, err := r.ledger.GetPayoutByPSPID(ctx, po.ID)
	if err != nil {
		if common.IsNotFound(err) {
			logger.WarnContext(ctx, "payout.failed for unknown payout",
				zap.String("psp_payout_id", po.ID))
			return nil
		}
		return err
	}
	if payout.Status == models.PayoutStatusFailed {
		return nil
	}

	reason := string(po.FailureCode)
	if reason == "" {
		reason = "payout failed"
	}
	if err := r.ledger.UpdatePayoutStatus(ctx, payout.ID, models.PayoutStatusFailed, &reason); err != nil {
		return err
	}
	if err := r.ledger.FailTransaction(ctx, payout.TransactionID); err != nil {
		return err
	}

	payoutID := payout.ID
	pspPayoutID := po.ID
	reversal := &models.Transaction{
		UserID:        payout.UserID,
		Kind:          models.TxWithdrawalFailed,
		Amount:        payout.Amount,
		NetAmount:     payout.Amount,
		Currency:      payout.Currency,
		Status:        models.TxStatusCompleted,
		ReferenceKind: models.RefPayout,
		ReferenceID:   &payoutID,
		PSPPayoutID:   &pspPayoutID,
		Description:   "Withdrawal failed, funds returned",
	}
	if err := r.ledger.Append(ctx, reversal); err != nil {
		return err
	}

	logger.WarnContext(ctx, "payout failed, hold reversed",
		zap.String("payout_id", payout.ID.String()),
		zap.String("reason", reason))
	return nil
}

func (r *Reconciler) handleAccountUpdated(ctx context.Context, raw json.RawMessage) error {
	var acct stripe.Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return fmt.Errorf("failed to parse account: %w", err)
	}

	enabled := acct.PayoutsEnabled && acct.ChargesEnabled
	if err := r.repo.SetUserPayoutAccount(ctx, acct.ID, enabled); err != nil {
		return err
	}

	logger.InfoContext(ctx, "synced connected account capabilities",
		zap.String("account_id", acct.ID),
		zap.Bool("enabled", enabled))
	return nil
}

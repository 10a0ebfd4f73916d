package payments

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v83"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/internal/wallet"
	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/logger"
	"github.com/aeroride/carpool/pkg/resilience"
)

// Intent is the gateway-level view of a payment intent.
type Intent struct {
	ID                  string            `json:"id"`
	ClientSecret        string            `json:"client_secret,omitempty"`
	Status              string            `json:"status"`
	Amount              int64             `json:"amount"`
	Currency            string            `json:"currency"`
	TransferDestination string            `json:"-"`
	Metadata            map[string]string `json:"-"`
}

// Succeeded reports whether the intent settled.
func (i *Intent) Succeeded() bool {
	return i.Status == string(stripe.PaymentIntentStatusSucceeded)
}

// HasTransferData reports whether the charge was split to a connected account.
func (i *Intent) HasTransferData() bool {
	return i.TransferDestination != ""
}

// RefundResult is the gateway-level view of a refund.
type RefundResult struct {
	RefundID string
	Amount   int64
}

// Gateway wraps the Stripe client with retry and circuit breaking. A
// timed-out call whose outcome is unknown is surfaced as an error; the
// webhook reconciler settles the truth later.
type Gateway struct {
	client  StripeAPI
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewGateway creates a resilient payment gateway over the Stripe API.
func NewGateway(apiKey string) *Gateway {
	return NewGatewayWithClient(NewStripeClient(apiKey))
}

// NewGatewayWithClient wraps an existing client, used by tests.
func NewGatewayWithClient(client StripeAPI) *Gateway {
	breaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:             "stripe-api",
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}, func(ctx context.Context, err error) (interface{}, error) {
		logger.Error("Stripe circuit breaker open, payment operation failed", zap.Error(err))
		return nil, common.NewServiceUnavailableError("payments are temporarily unavailable, please try again")
	})

	retryConfig := resilience.DefaultRetryConfig()
	retryConfig.MaxAttempts = 3
	retryConfig.InitialBackoff = 1 * time.Second
	retryConfig.MaxBackoff = 10 * time.Second
	retryConfig.RetryableChecker = isStripeRetryable

	return &Gateway{client: client, breaker: breaker, retry: retryConfig}
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	if pi.TransferData != nil && pi.TransferData.Destination != nil {
		intent.TransferDestination = pi.TransferData.Destination.ID
	}
	return intent
}

// CreateIntent creates a PSP payment intent, optionally split to a connected
// account with an application fee.
func (g *Gateway) CreateIntent(ctx context.Context, amount int64, currency, description string, metadata map[string]string, splitDestination string, applicationFee int64) (*Intent, error) {
	result, err := resilience.RetryWithBreaker(ctx, g.retry, g.breaker, func(ctx context.Context) (interface{}, error) {
		return g.client.CreatePaymentIntent(amount, currency, description, metadata, splitDestination, applicationFee)
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to create payment intent after retries",
			zap.Error(err), zap.Int64("amount", amount))
		return nil, err
	}
	return intentFromStripe(result.(*stripe.PaymentIntent)), nil
}

// GetIntent retrieves the authoritative PSP-side intent state.
func (g *Gateway) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	result, err := resilience.RetryWithBreaker(ctx, g.retry, g.breaker, func(ctx context.Context) (interface{}, error) {
		return g.client.GetPaymentIntent(intentID)
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to get payment intent after retries",
			zap.Error(err), zap.String("payment_intent_id", intentID))
		return nil, err
	}
	return intentFromStripe(result.(*stripe.PaymentIntent)), nil
}

// Refund refunds an intent in full.
func (g *Gateway) Refund(ctx context.Context, intentID string, reverseTransfer, refundApplicationFee bool) (*RefundResult, error) {
	result, err := resilience.RetryWithBreaker(ctx, g.retry, g.breaker, func(ctx context.Context) (interface{}, error) {
		return g.client.CreateRefund(intentID, reverseTransfer, refundApplicationFee)
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to create refund after retries",
			zap.Error(err), zap.String("payment_intent_id", intentID))
		return nil, err
	}
	r := result.(*stripe.Refund)
	return &RefundResult{RefundID: r.ID, Amount: r.Amount}, nil
}

// CreateTransfer moves funds to a connected account.
func (g *Gateway) CreateTransfer(ctx context.Context, amount int64, currency, destination string, metadata map[string]string) (string, error) {
	result, err := resilience.RetryWithBreaker(ctx, g.retry, g.breaker, func(ctx context.Context) (interface{}, error) {
		return g.client.CreateTransfer(amount, currency, destination, metadata)
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to create transfer after retries",
			zap.Error(err), zap.String("destination", destination))
		return "", err
	}
	return result.(*stripe.Transfer).ID, nil
}

// CreateConnectedAccount creates an Express account and onboarding link.
func (g *Gateway) CreateConnectedAccount(ctx context.Context, email, userID string) (*wallet.ConnectedAccount, error) {
	type created struct {
		acct *stripe.Account
		link *stripe.AccountLink
	}
	result, err := resilience.RetryWithBreaker(ctx, g.retry, g.breaker, func(ctx context.Context) (interface{}, error) {
		acct, link, err := g.client.CreateConnectedAccount(email, userID)
		if err != nil {
			return nil, err
		}
		return created{acct: acct, link: link}, nil
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to create connected account after retries", zap.Error(err))
		return nil, err
	}
	c := result.(created)
	return &wallet.ConnectedAccount{
		AccountID:     c.acct.ID,
		OnboardingURL: c.link.URL,
		ExpiresAt:     linkExpiry(c.link),
	}, nil
}

// GetAccount reads a connected account's capability state.
func (g *Gateway) GetAccount(ctx context.Context, accountID string) (*wallet.AccountStatus, error) {
	result, err := resilience.RetryWithBreaker(ctx, g.retry, g.breaker, func(ctx context.Context) (interface{}, error) {
		return g.client.GetAccount(accountID)
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to get connected account after retries",
			zap.Error(err), zap.String("account_id", accountID))
		return nil, err
	}
	return accountStatusFromStripe(result.(*stripe.Account)), nil
}

func accountStatusFromStripe(acct *stripe.Account) *wallet.AccountStatus {
	status := &wallet.AccountStatus{
		AccountID:           acct.ID,
		CapabilitiesEnabled: acct.PayoutsEnabled && acct.ChargesEnabled,
	}
	if acct.Requirements != nil {
		status.RequirementsDue = acct.Requirements.CurrentlyDue
	}
	return status
}

// isStripeRetryable classifies Stripe failures: server-side and throttling
// errors retry, card and invalid-request errors never do.
func isStripeRetryable(err error) bool {
	if err == nil {
		return false
	}

	if stripeErr, ok := err.(*stripe.Error); ok {
		if stripeErr.Type == stripe.ErrorTypeCard || stripeErr.Type == stripe.ErrorTypeInvalidRequest {
			return false
		}
		if stripeErr.HTTPStatusCode == 429 || stripeErr.HTTPStatusCode == 408 {
			return true
		}
		if stripeErr.HTTPStatusCode >= 500 && stripeErr.HTTPStatusCode < 600 {
			return true
		}
		if stripeErr.Type == stripe.ErrorTypeAPI {
			return true
		}
		return false
	}

	// Network-level errors without a Stripe classification are retried.
	return true
}

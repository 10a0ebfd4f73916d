package payments

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/account"
	"github.com/stripe/stripe-go/v83/accountlink"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/refund"
	"github.com/stripe/stripe-go/v83/transfer"
)

// StripeClient wraps the raw Stripe API operations the marketplace needs.
type StripeClient struct {
	apiKey string
}

// NewStripeClient creates a new Stripe client
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{apiKey: apiKey}
}

// CreatePaymentIntent creates a payment intent. When splitDestination is set
// the charge is routed to the driver's connected account with applicationFee
// retained by the platform.
func (s *StripeClient) CreatePaymentIntent(amount int64, currency, description string, metadata map[string]string, splitDestination string, applicationFee int64) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(currency),
		Description: stripe.String(description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}

	if splitDestination != "" {
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(splitDestination),
		}
		params.ApplicationFeeAmount = stripe.Int64(applicationFee)
	}

	for key, value := range metadata {
		params.AddMetadata(key, value)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	return pi, nil
}

// GetPaymentIntent retrieves a payment intent
func (s *StripeClient) GetPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error) {
	pi, err := paymentintent.Get(paymentIntentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return pi, nil
}

// CreateRefund refunds a payment intent in full. reverseTransfer pulls the
// split back from the connected account; refundApplicationFee returns the
// platform's share too.
func (s *StripeClient) CreateRefund(paymentIntentID string, reverseTransfer, refundApplicationFee bool) (*stripe.Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	if reverseTransfer {
		params.ReverseTransfer = stripe.Bool(true)
	}
	if refundApplicationFee {
		params.RefundApplicationFee = stripe.Bool(true)
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}
	return r, nil
}

// CreateTransfer creates a transfer to a driver's connected account
func (s *StripeClient) CreateTransfer(amount int64, currency, destination string, metadata map[string]string) (*stripe.Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(currency),
		Destination: stripe.String(destination),
	}

	for key, value := range metadata {
		params.AddMetadata(key, value)
	}

	t, err := transfer.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}
	return t, nil
}

// CreateConnectedAccount creates an Express account for driver settlement and
// returns it with a fresh onboarding link.
func (s *StripeClient) CreateConnectedAccount(email, userID string) (*stripe.Account, *stripe.AccountLink, error) {
	acctParams := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{
				Requested: stripe.Bool(true),
			},
		},
	}
	acctParams.AddMetadata("user_id", userID)

	acct, err := account.New(acctParams)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connected account: %w", err)
	}

	link, err := s.CreateAccountLink(acct.ID)
	if err != nil {
		return nil, nil, err
	}
	return acct, link, nil
}

// CreateAccountLink generates an onboarding link for an existing account.
func (s *StripeClient) CreateAccountLink(accountID string) (*stripe.AccountLink, error) {
	link, err := accountlink.New(&stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String("https://app.aeroride.eu/wallet/connect-bank/refresh"),
		ReturnURL:  stripe.String("https://app.aeroride.eu/wallet/connect-bank/return"),
		Type:       stripe.String("account_onboarding"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account link: %w", err)
	}
	return link, nil
}

// GetAccount retrieves a connected account
func (s *StripeClient) GetAccount(accountID string) (*stripe.Account, error) {
	acct, err := account.GetByID(accountID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// linkExpiry converts the Unix expiry on an account link.
func linkExpiry(link *stripe.AccountLink) time.Time {
	return time.Unix(link.ExpiresAt, 0).UTC()
}

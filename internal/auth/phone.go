package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/aeroride/carpool/pkg/httpclient"
)

// PhoneAuthClient verifies phone sign-in tokens against the identity
// toolkit REST API. The client app completes the SMS challenge with the
// provider; we only check the resulting token and read the proven number.
type PhoneAuthClient struct {
	client *httpclient.Client
	apiKey string
}

// NewPhoneAuthClient creates a verifier against the given identity toolkit
// base URL.
func NewPhoneAuthClient(baseURL, apiKey string, timeout time.Duration) *PhoneAuthClient {
	return &PhoneAuthClient{
		client: httpclient.NewClient(baseURL, timeout, httpclient.WithDefaultRetry()),
		apiKey: apiKey,
	}
}

type accountsLookupResponse struct {
	Users []struct {
		PhoneNumber string `json:"phoneNumber"`
	} `json:"users"`
}

// VerifyPhoneToken resolves an ID token to the phone number it proves.
func (c *PhoneAuthClient) VerifyPhoneToken(ctx context.Context, idToken string) (string, error) {
	payload, err := json.Marshal(map[string]string{"idToken": idToken})
	if err != nil {
		return "", fmt.Errorf("failed to encode lookup request: %w", err)
	}

	body, err := c.client.Post(ctx, "/v1/accounts:lookup?key="+url.QueryEscape(c.apiKey), payload, nil)
	if err != nil {
		return "", fmt.Errorf("token lookup failed: %w", err)
	}

	var resp accountsLookupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse lookup response: %w", err)
	}
	if len(resp.Users) == 0 || resp.Users[0].PhoneNumber == "" {
		return "", fmt.Errorf("token carries no verified phone number")
	}
	return resp.Users[0].PhoneNumber, nil
}

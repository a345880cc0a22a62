// Package payment contains clients for the external payment providers and
// the webhook event normalizer.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const stripeAPIURL = "https://api.stripe.com"

// StripeClient encapsulates HTTP interaction with the Stripe API.
type StripeClient struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// StripeIntent is the subset of a Stripe payment intent handed to the browser.
type StripeIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

type stripeErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewStripeClient creates a Stripe API client with the given secret key.
func NewStripeClient(secretKey string) *StripeClient {
	return NewStripeClientWithBaseURL(secretKey, stripeAPIURL)
}

// NewStripeClientWithBaseURL creates a client against a non-default API host.
func NewStripeClientWithBaseURL(secretKey, baseURL string) *StripeClient {
	return &StripeClient{
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateIntent creates a payment intent for the amount in minor units and
// tags it with the order id so webhook events can be routed back.
func (c *StripeClient) CreateIntent(ctx context.Context, amountCents int64, currency, orderID string) (*StripeIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", currency)
	form.Set("metadata[orderId]", orderID)
	form.Set("automatic_payment_methods[enabled]", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errBody stripeErrorBody
		if jerr := json.Unmarshal(body, &errBody); jerr == nil && errBody.Error.Message != "" {
			return nil, &ProviderError{Provider: "stripe", Status: resp.StatusCode, Message: errBody.Error.Message, Raw: string(body)}
		}
		return nil, &ProviderError{Provider: "stripe", Status: resp.StatusCode, Message: "payment intent creation failed", Raw: string(body)}
	}

	var intent StripeIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}

	return &intent, nil
}

// ProviderError carries the upstream provider status and raw payload for
// server-side diagnostics. The raw payload must not be surfaced to clients.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
	Raw      string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, e.Message)
}

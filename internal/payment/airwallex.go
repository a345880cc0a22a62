package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const airwallexAPIURL = "https://api.airwallex.com"

// AirwallexClient encapsulates HTTP interaction with the Airwallex API.
// Intent creation requires a prior bearer-token exchange; the token is cached
// until shortly before expiry.
type AirwallexClient struct {
	clientID   string
	apiKey     string
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// AirwallexIntent is the subset of an Airwallex payment intent returned to
// the browser.
type AirwallexIntent struct {
	ID           string  `json:"id"`
	ClientSecret string  `json:"client_secret"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Status       string  `json:"status"`
}

// AirwallexIntentRequest describes an intent to create.
type AirwallexIntentRequest struct {
	Amount      float64
	Currency    string
	OrderID     string
	Description string
	CustomerID  string
}

type awxAuthResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type awxIntentBody struct {
	RequestID       string            `json:"request_id"`
	Amount          float64           `json:"amount"`
	Currency        string            `json:"currency"`
	MerchantOrderID string            `json:"merchant_order_id"`
	Descriptor      string            `json:"descriptor,omitempty"`
	CustomerID      string            `json:"customer_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// NewAirwallexClient creates an Airwallex API client.
func NewAirwallexClient(clientID, apiKey string) *AirwallexClient {
	return NewAirwallexClientWithBaseURL(clientID, apiKey, airwallexAPIURL)
}

// NewAirwallexClientWithBaseURL creates a client against a non-default API host.
func NewAirwallexClientWithBaseURL(clientID, apiKey, baseURL string) *AirwallexClient {
	return &AirwallexClient{
		clientID: clientID,
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *AirwallexClient) authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/authentication/login", nil)
	if err != nil {
		return "", fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-id", c.clientID)
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", &ProviderError{Provider: "airwallex", Status: resp.StatusCode, Message: "authentication failed", Raw: string(body)}
	}

	var auth awxAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}

	c.accessToken = auth.Token
	expiry, err := time.Parse(time.RFC3339, auth.ExpiresAt)
	if err != nil {
		// Airwallex tokens live 30 minutes; leave a safety margin.
		c.tokenExpiry = time.Now().Add(25 * time.Minute)
	} else {
		c.tokenExpiry = expiry.Add(-1 * time.Minute)
	}

	return c.accessToken, nil
}

// CreateIntent authenticates if needed and creates a payment intent for the
// amount in major currency units.
func (c *AirwallexClient) CreateIntent(ctx context.Context, r AirwallexIntentRequest) (*AirwallexIntent, error) {
	token, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	intentBody := awxIntentBody{
		RequestID:       uuid.NewString(),
		Amount:          r.Amount,
		Currency:        strings.ToUpper(r.Currency),
		MerchantOrderID: r.OrderID,
		Descriptor:      r.Description,
		CustomerID:      r.CustomerID,
		Metadata:        map[string]string{"orderId": r.OrderID},
	}

	payload, err := json.Marshal(intentBody)
	if err != nil {
		return nil, fmt.Errorf("marshal intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/pa/payment_intents/create", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &ProviderError{Provider: "airwallex", Status: resp.StatusCode, Message: "payment intent creation failed", Raw: string(body)}
	}

	var intent AirwallexIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}

	return &intent, nil
}

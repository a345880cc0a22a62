// Package handler contains the HTTP handlers of the VetSphere API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/huhuanshizhe/vetsphere/internal/llm"
	"github.com/huhuanshizhe/vetsphere/internal/middleware"
	"github.com/huhuanshizhe/vetsphere/internal/model"
	"github.com/huhuanshizhe/vetsphere/internal/notify"
	"github.com/huhuanshizhe/vetsphere/internal/payment"
	"github.com/huhuanshizhe/vetsphere/internal/repository"
	"github.com/huhuanshizhe/vetsphere/internal/service"
)

// Service defines the business logic contract used by the HTTP handlers.
type Service interface {
	CreateStripeIntent(ctx context.Context, orderID string, amount float64, currency string) (*payment.StripeIntent, error)
	CreateAirwallexIntent(ctx context.Context, p service.AirwallexIntentParams) (*payment.AirwallexIntent, error)
	HandleWebhook(ctx context.Context, body []byte, signatureHeader string) error
	Checkout(ctx context.Context, userID string, courseIDs []string) (*model.Order, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	GetCourses(ctx context.Context) ([]model.Course, error)
	GetEnrollmentsByUser(ctx context.Context, userID string) ([]model.Enrollment, error)
	GetTracking(ctx context.Context, orderID string) (*service.TrackingInfo, error)
	AddTrackingEvent(ctx context.Context, orderID string, p service.TrackingEventParams) error
	Chat(ctx context.Context, messages []llm.Message) (string, error)
}

// Handler implements the HTTP handlers of the VetSphere API.
type Handler struct {
	service    Service
	logger     *zap.Logger
	adminAuth  *middleware.AdminAuth
	adminToken string
	broker     *notify.Broker
}

// NewHandler creates a new HTTP handler instance.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AdminAuth, adminToken string, broker *notify.Broker) *Handler {
	return &Handler{
		service:    s,
		logger:     logger,
		adminAuth:  auth,
		adminToken: adminToken,
		broker:     broker,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

// writeIntentError maps the issuer error taxonomy onto HTTP statuses.
func (h *Handler) writeIntentError(w http.ResponseWriter, err error, orderID string) {
	switch {
	case errors.Is(err, service.ErrNotConfigured):
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "payment provider not configured"})
	case errors.Is(err, service.ErrInvalidRequest):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Details: err.Error()})
	case errors.Is(err, repository.ErrOrderNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "order not found"})
	case errors.Is(err, service.ErrAmountMismatch):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "amount does not match order total"})
	case errors.Is(err, service.ErrAlreadyPaid):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "order already paid"})
	default:
		var provErr *payment.ProviderError
		if errors.As(err, &provErr) {
			h.logger.Error("provider error",
				zap.String("provider", provErr.Provider),
				zap.Int("providerStatus", provErr.Status),
				zap.String("raw", provErr.Raw),
				zap.String("orderID", orderID))
			h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "payment provider error", Details: provErr.Message})
			return
		}
		h.logger.Error("create intent error", zap.Error(err), zap.String("orderID", orderID))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

type stripeIntentRequest struct {
	OrderID  string  `json:"orderId"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// CreateStripeIntent handles POST /api/payments/stripe/intent.
func (h *Handler) CreateStripeIntent(w http.ResponseWriter, r *http.Request) {
	var req stripeIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	intent, err := h.service.CreateStripeIntent(r.Context(), req.OrderID, req.Amount, req.Currency)
	if err != nil {
		h.writeIntentError(w, err, req.OrderID)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"clientSecret": intent.ClientSecret,
		"id":           intent.ID,
	})
}

type airwallexIntentRequest struct {
	OrderID     string  `json:"orderId"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description"`
	Customer    string  `json:"customer"`
}

// CreateAirwallexIntent handles POST /api/payments/airwallex/intent.
func (h *Handler) CreateAirwallexIntent(w http.ResponseWriter, r *http.Request) {
	var req airwallexIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	intent, err := h.service.CreateAirwallexIntent(r.Context(), service.AirwallexIntentParams{
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		CustomerID:  req.Customer,
	})
	if err != nil {
		h.writeIntentError(w, err, req.OrderID)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"intent_id":     intent.ID,
		"client_secret": intent.ClientSecret,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})
}

// Webhook handles POST /api/payments/webhook. Processed and intentionally
// skipped deliveries both answer 200 so the provider stops retrying.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	err = h.service.HandleWebhook(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidSignature):
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid signature"})
		case errors.Is(err, service.ErrInvalidRequest):
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid event payload"})
		default:
			h.logger.Error("webhook processing error", zap.Error(err))
			h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

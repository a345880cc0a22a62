// Package service implements the business logic of the VetSphere backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/huhuanshizhe/vetsphere/internal/config"
	"github.com/huhuanshizhe/vetsphere/internal/llm"
	"github.com/huhuanshizhe/vetsphere/internal/model"
	"github.com/huhuanshizhe/vetsphere/internal/notify"
	"github.com/huhuanshizhe/vetsphere/internal/payment"
	"github.com/huhuanshizhe/vetsphere/internal/repository"
	"github.com/huhuanshizhe/vetsphere/internal/validation"
)

// ErrNotConfigured is returned when a provider credential is absent or a
// placeholder, making the operation unavailable.
var (
	ErrNotConfigured = errors.New("provider not configured")
	// ErrInvalidRequest is returned when a required field is missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAmountMismatch is returned when the requested amount differs from the
	// stored order total by more than 0.01 currency units.
	ErrAmountMismatch = errors.New("amount does not match order total")
	// ErrAlreadyPaid is returned on an intent request for an order that has
	// already been paid.
	ErrAlreadyPaid = errors.New("order already paid")
)

// Repository describes the data access contract used by the service.
type Repository interface {
	Close() error
	GetOrderByID(ctx context.Context, orderID string) (*model.Order, error)
	CreateOrderWithEnrollments(ctx context.Context, order model.Order, courseIDs []string) error
	ApplyPaymentOutcome(ctx context.Context, orderID string, orderStatus model.OrderStatus, paymentStatus model.PaymentStatus) error
	UpdateOrderShipment(ctx context.Context, orderID string, status model.OrderStatus, carrier, trackingNumber *string, estimatedDelivery *time.Time) error
	AddTrackingEvent(ctx context.Context, ev model.TrackingEvent) error
	GetTrackingEvents(ctx context.Context, orderID string) ([]model.TrackingEvent, error)
	GetCourses(ctx context.Context) ([]model.Course, error)
	GetCoursesByIDs(ctx context.Context, ids []string) ([]model.Course, error)
	GetEnrollmentsByOrder(ctx context.Context, orderID string) ([]model.Enrollment, error)
	GetEnrollmentsByUser(ctx context.Context, userID string) ([]model.Enrollment, error)
}

// StripeIssuer creates Stripe payment intents.
type StripeIssuer interface {
	CreateIntent(ctx context.Context, amountCents int64, currency, orderID string) (*payment.StripeIntent, error)
}

// AirwallexIssuer creates Airwallex payment intents.
type AirwallexIssuer interface {
	CreateIntent(ctx context.Context, r payment.AirwallexIntentRequest) (*payment.AirwallexIntent, error)
}

// ChatCompleter produces assistant replies for the chat endpoint.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Deps groups the external collaborators of the service. Nil provider
// clients mean the corresponding credential was not configured.
type Deps struct {
	Stripe    StripeIssuer
	Airwallex AirwallexIssuer
	Chat      ChatCompleter

	Broker *notify.Broker
	Logger *zap.Logger

	WebhookSecret string
	Environment   config.Environment
}

// Service contains the business logic of the VetSphere backend.
type Service struct {
	repo    Repository
	deps    Deps
	nowFunc func() time.Time
}

// NewService creates the service with the given repository and collaborators.
func NewService(repo Repository, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		deps:    deps,
		nowFunc: time.Now,
	}
}

// Close releases the service resources.
func (s *Service) Close() error {
	if s.deps.Broker != nil {
		s.deps.Broker.Close()
	}
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// validateIntentRequest runs the checks shared by both providers and returns
// the stored order on success.
func (s *Service) validateIntentRequest(ctx context.Context, orderID string, amount float64, currency string) (*model.Order, error) {
	if !validation.IsValidOrderID(orderID) || amount <= 0 {
		return nil, ErrInvalidRequest
	}
	if currency != "" && !validation.IsValidCurrency(currency) {
		return nil, fmt.Errorf("%w: unsupported currency %q", ErrInvalidRequest, currency)
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case model.OrderStatusPaid, model.OrderStatusShipped, model.OrderStatusCompleted:
		return nil, ErrAlreadyPaid
	}

	// Tolerance of 0.01 currency units covers float rounding on the way in.
	requestedCents := int64(math.Round(amount * 100))
	if diff := requestedCents - order.TotalCents; diff > 1 || diff < -1 {
		return nil, ErrAmountMismatch
	}

	return order, nil
}

// CreateStripeIntent validates the order and requests a Stripe payment
// intent for its stored total. No local state is mutated.
func (s *Service) CreateStripeIntent(ctx context.Context, orderID string, amount float64, currency string) (*payment.StripeIntent, error) {
	if s.deps.Stripe == nil {
		return nil, ErrNotConfigured
	}

	order, err := s.validateIntentRequest(ctx, orderID, amount, currency)
	if err != nil {
		return nil, err
	}

	if currency == "" {
		currency = order.Currency
	}

	intent, err := s.deps.Stripe.CreateIntent(ctx, order.TotalCents, strings.ToLower(currency), order.ID)
	if err != nil {
		return nil, fmt.Errorf("create stripe intent: %w", err)
	}

	return intent, nil
}

// AirwallexIntentParams describes an Airwallex intent request.
type AirwallexIntentParams struct {
	OrderID     string
	Amount      float64
	Currency    string
	Description string
	CustomerID  string
}

// CreateAirwallexIntent validates the order and requests an Airwallex
// payment intent for its stored total. No local state is mutated.
func (s *Service) CreateAirwallexIntent(ctx context.Context, p AirwallexIntentParams) (*payment.AirwallexIntent, error) {
	if s.deps.Airwallex == nil {
		return nil, ErrNotConfigured
	}

	order, err := s.validateIntentRequest(ctx, p.OrderID, p.Amount, p.Currency)
	if err != nil {
		return nil, err
	}

	currency := p.Currency
	if currency == "" {
		currency = order.Currency
	}

	intent, err := s.deps.Airwallex.CreateIntent(ctx, payment.AirwallexIntentRequest{
		Amount:      order.Total(),
		Currency:    currency,
		OrderID:     order.ID,
		Description: p.Description,
		CustomerID:  p.CustomerID,
	})
	if err != nil {
		return nil, fmt.Errorf("create airwallex intent: %w", err)
	}

	return intent, nil
}

// HandleWebhook authenticates a provider callback, normalizes it and applies
// the outcome to the order and its enrollments. Deliveries that require no
// state change return nil so the provider is answered with 200.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signatureHeader string) error {
	if config.IsConfigured(s.deps.WebhookSecret) {
		if err := payment.VerifySignature(body, signatureHeader, s.deps.WebhookSecret,
			payment.DefaultSignatureTolerance, s.nowFunc()); err != nil {
			return err
		}
	} else {
		// Unsigned bodies are only ever trusted outside production; Parse
		// refuses to start production without a secret.
		if s.deps.Environment == config.EnvProduction {
			return fmt.Errorf("%w: webhook secret missing in production", payment.ErrInvalidSignature)
		}
		s.deps.Logger.Debug("webhook signature check skipped, secret not configured")
	}

	ev, err := payment.ParseEvent(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	normalized, actionable := payment.Normalize(ev)
	if !actionable {
		switch {
		case normalized.Outcome == model.OutcomeFailed:
			s.deps.Logger.Info("payment failed, order remains pending",
				zap.String("event", ev.ID), zap.String("type", ev.Type))
		case normalized.Outcome != "":
			s.deps.Logger.Warn("actionable event missing orderId metadata, dropped",
				zap.String("event", ev.ID), zap.String("type", ev.Type))
		default:
			s.deps.Logger.Info("unhandled webhook event type",
				zap.String("event", ev.ID), zap.String("type", ev.Type))
		}
		return nil
	}

	return s.applyOutcome(ctx, normalized)
}

func (s *Service) applyOutcome(ctx context.Context, ev payment.NormalizedEvent) error {
	var orderStatus model.OrderStatus
	var paymentStatus model.PaymentStatus

	switch ev.Outcome {
	case model.OutcomePaid:
		orderStatus = model.OrderStatusPaid
		paymentStatus = model.PaymentStatusPaid
	case model.OutcomeRefunded:
		orderStatus = model.OrderStatusRefunded
		paymentStatus = model.PaymentStatusRefunded
	default:
		return nil
	}

	err := s.repo.ApplyPaymentOutcome(ctx, ev.OrderID, orderStatus, paymentStatus)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			s.deps.Logger.Warn("webhook references unknown order, dropped",
				zap.String("orderID", ev.OrderID),
				zap.String("outcome", string(ev.Outcome)))
			return nil
		}
		return fmt.Errorf("apply payment outcome: %w", err)
	}

	s.deps.Logger.Info("payment outcome applied",
		zap.String("orderID", ev.OrderID),
		zap.String("outcome", string(ev.Outcome)))

	s.publishOrderEvent(ev.OrderID, orderStatus)

	return nil
}

func (s *Service) publishOrderEvent(orderID string, status model.OrderStatus) {
	if s.deps.Broker == nil {
		return
	}
	s.deps.Broker.Publish(model.OrderEvent{
		OrderID: orderID,
		Status:  status,
		At:      s.nowFunc(),
	})
}

// Checkout creates a pending order for the given courses together with one
// unpaid enrollment per course.
func (s *Service) Checkout(ctx context.Context, userID string, courseIDs []string) (*model.Order, error) {
	if userID == "" || len(courseIDs) == 0 {
		return nil, ErrInvalidRequest
	}

	courses, err := s.repo.GetCoursesByIDs(ctx, courseIDs)
	if err != nil {
		return nil, err
	}

	// A single order carries one currency; the total is meaningless otherwise.
	currency := courses[0].Currency
	var totalCents int64
	for _, c := range courses {
		if c.Currency != currency {
			return nil, fmt.Errorf("%w: courses priced in different currencies", ErrInvalidRequest)
		}
		totalCents += c.PriceCents
	}

	order := model.Order{
		ID:         "ord_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		UserID:     userID,
		TotalCents: totalCents,
		Currency:   currency,
		Status:     model.OrderStatusPending,
		CreatedAt:  s.nowFunc(),
	}

	if err := s.repo.CreateOrderWithEnrollments(ctx, order, courseIDs); err != nil {
		return nil, err
	}

	return &order, nil
}

// GetOrder returns an order by id.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.repo.GetOrderByID(ctx, orderID)
}

// GetCourses returns the course catalog.
func (s *Service) GetCourses(ctx context.Context) ([]model.Course, error) {
	return s.repo.GetCourses(ctx)
}

// GetEnrollmentsByUser returns a user's enrollments.
func (s *Service) GetEnrollmentsByUser(ctx context.Context, userID string) ([]model.Enrollment, error) {
	return s.repo.GetEnrollmentsByUser(ctx, userID)
}

// Chat proxies a conversation to the completion API with the assistant's
// system prompt prepended.
func (s *Service) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if s.deps.Chat == nil {
		return "", ErrNotConfigured
	}
	if len(messages) == 0 {
		return "", ErrInvalidRequest
	}

	withPrompt := make([]llm.Message, 0, len(messages)+1)
	withPrompt = append(withPrompt, llm.Message{
		Role: "system",
		Content: "You are the VetSphere assistant, helping veterinary professionals " +
			"and students with course selection, orders and general veterinary-education " +
			"questions. Do not give clinical advice for specific animal patients.",
	})
	withPrompt = append(withPrompt, messages...)

	return s.deps.Chat.Complete(ctx, withPrompt)
}

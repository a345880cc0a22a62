package service

import (
	"context"
	"time"

	"github.com/huhuanshizhe/vetsphere/internal/model"
	"github.com/huhuanshizhe/vetsphere/internal/validation"
)

// Synthetic timeline step names, oldest first.
const (
	trackingStepPlaced    = "order_placed"
	trackingStepConfirmed = "payment_confirmed"
	trackingStepShipped   = "shipped"
	trackingStepDelivered = "delivered"
)

// TrackingInfo is the tracking view of an order: shipment fields plus the
// event timeline, newest first.
type TrackingInfo struct {
	OrderID           string
	Status            model.OrderStatus
	Carrier           string
	TrackingNumber    string
	EstimatedDelivery *time.Time
	Events            []model.TrackingEvent
}

// TrackingEventParams describes an operator-supplied tracking event. Nil
// shipment fields leave the stored values untouched.
type TrackingEventParams struct {
	Status            string
	Location          string
	Description       string
	Carrier           *string
	TrackingNumber    *string
	EstimatedDelivery *time.Time
}

// GetTracking returns the tracking timeline of an order. When no real events
// are recorded, a synthetic history is derived from the order's status and
// creation time.
func (s *Service) GetTracking(ctx context.Context, orderID string) (*TrackingInfo, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	events, err := s.repo.GetTrackingEvents(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		events = syntheticTimeline(order)
	}

	return &TrackingInfo{
		OrderID:           order.ID,
		Status:            order.Status,
		Carrier:           order.Carrier,
		TrackingNumber:    order.TrackingNumber,
		EstimatedDelivery: order.EstimatedDelivery,
		Events:            events,
	}, nil
}

// syntheticTimeline derives a 1-4 step history from the order status and
// creation time, newest first.
func syntheticTimeline(order *model.Order) []model.TrackingEvent {
	steps := []model.TrackingEvent{
		{
			OrderID:     order.ID,
			Status:      trackingStepPlaced,
			Description: "Order placed",
			CreatedAt:   order.CreatedAt,
		},
		{
			OrderID:     order.ID,
			Status:      trackingStepConfirmed,
			Description: "Payment confirmed",
			CreatedAt:   order.CreatedAt.Add(5 * time.Minute),
		},
		{
			OrderID:     order.ID,
			Status:      trackingStepShipped,
			Description: "Package shipped",
			CreatedAt:   order.CreatedAt.Add(24 * time.Hour),
		},
		{
			OrderID:     order.ID,
			Status:      trackingStepDelivered,
			Description: "Package delivered",
			CreatedAt:   order.CreatedAt.Add(3 * 24 * time.Hour),
		},
	}

	var n int
	switch order.Status {
	case model.OrderStatusPending:
		n = 1
	case model.OrderStatusPaid, model.OrderStatusRefunded:
		n = 2
	case model.OrderStatusShipped:
		n = 3
	default:
		n = 4
	}

	steps = steps[:n]

	// Newest first.
	reversed := make([]model.TrackingEvent, 0, len(steps))
	for i := len(steps) - 1; i >= 0; i-- {
		reversed = append(reversed, steps[i])
	}

	return reversed
}

// AddTrackingEvent records an operator-supplied tracking event, updates any
// provided shipment fields and re-derives the order's coarse status from the
// event's status keyword.
func (s *Service) AddTrackingEvent(ctx context.Context, orderID string, p TrackingEventParams) error {
	if !validation.IsValidOrderID(orderID) || p.Status == "" || p.Description == "" {
		return ErrInvalidRequest
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	if err := s.repo.AddTrackingEvent(ctx, model.TrackingEvent{
		OrderID:     orderID,
		Status:      p.Status,
		Location:    p.Location,
		Description: p.Description,
	}); err != nil {
		return err
	}

	status := deriveStatus(order.Status, p.Status)
	if err := s.repo.UpdateOrderShipment(ctx, orderID, status, p.Carrier, p.TrackingNumber, p.EstimatedDelivery); err != nil {
		return err
	}

	if status != order.Status {
		s.publishOrderEvent(orderID, status)
	}

	return nil
}

// deriveStatus maps a tracking status keyword onto the coarse order status.
// Keywords that mean nothing for the lifecycle keep the current status.
func deriveStatus(current model.OrderStatus, trackingStatus string) model.OrderStatus {
	switch {
	case validation.IsDeliveredStatus(trackingStatus):
		return model.OrderStatusCompleted
	case validation.IsShippedStatus(trackingStatus):
		return model.OrderStatusShipped
	default:
		return current
	}
}

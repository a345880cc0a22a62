// Package model contains the domain entities of the VetSphere platform.
package model

import "time"

// OrderStatus describes the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// Order describes a purchase and its shipment fields. Orders are never
// deleted, only moved between statuses.
type Order struct {
	ID                string
	UserID            string
	TotalCents        int64
	Currency          string
	Status            OrderStatus
	Carrier           string
	TrackingNumber    string
	EstimatedDelivery *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Total returns the order amount in major currency units.
func (o Order) Total() float64 {
	return float64(o.TotalCents) / 100
}

// PaymentStatus describes the payment state of a course enrollment.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Enrollment links a user to a purchased course. Its payment status follows
// the last payment outcome applied to the parent order.
type Enrollment struct {
	ID            int64
	OrderID       string
	CourseID      string
	UserID        string
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
}

// Course is a catalog entry available for purchase.
type Course struct {
	ID          string
	Title       string
	Description string
	PriceCents  int64
	Currency    string
}

// TrackingEvent is a recorded shipment event for an order.
type TrackingEvent struct {
	OrderID     string
	Status      string
	Location    string
	Description string
	CreatedAt   time.Time
}

// PaymentOutcome is the normalized result of a provider webhook event.
type PaymentOutcome string

const (
	OutcomePaid     PaymentOutcome = "paid"
	OutcomeFailed   PaymentOutcome = "failed"
	OutcomeRefunded PaymentOutcome = "refunded"
)

// OrderEvent is published to notification subscribers whenever an order
// changes state.
type OrderEvent struct {
	OrderID string      `json:"orderId"`
	Status  OrderStatus `json:"status"`
	At      time.Time   `json:"at"`
}

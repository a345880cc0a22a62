package payment

import (
	"encoding/json"
	"fmt"

	"github.com/huhuanshizhe/vetsphere/internal/model"
)

// Provider event types the normalizer acts on.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded  = "charge.refunded"
)

// Event is the provider's webhook envelope. The embedded object carries the
// order id in its metadata.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// NormalizedEvent is the internal representation of an actionable webhook
// delivery: which order, and what happened to its payment.
type NormalizedEvent struct {
	OrderID string
	Outcome model.PaymentOutcome
}

// ParseEvent decodes a webhook body into the provider envelope.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("event has no type")
	}
	return &ev, nil
}

// Normalize maps a provider event onto an internal outcome. The second
// return value is false for event types that require no state change and for
// actionable events missing the order id metadata.
func Normalize(ev *Event) (NormalizedEvent, bool) {
	var outcome model.PaymentOutcome

	switch ev.Type {
	case EventIntentSucceeded:
		outcome = model.OutcomePaid
	case EventChargeRefunded:
		outcome = model.OutcomeRefunded
	case EventIntentFailed:
		// The order stays pending; the client may retry the payment.
		return NormalizedEvent{Outcome: model.OutcomeFailed}, false
	default:
		return NormalizedEvent{}, false
	}

	orderID := ev.Data.Object.Metadata["orderId"]
	if orderID == "" {
		return NormalizedEvent{Outcome: outcome}, false
	}

	return NormalizedEvent{OrderID: orderID, Outcome: outcome}, true
}

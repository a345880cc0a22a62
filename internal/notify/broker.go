// Package notify implements the in-process order event fan-out.
package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/huhuanshizhe/vetsphere/internal/model"
)

const subscriberBuffer = 16

// Broker fans order events out to subscribers. Publish never blocks: an event
// is dropped for a subscriber whose buffer is full.
type Broker struct {
	logger *zap.Logger

	mu          sync.Mutex
	subscribers map[int]chan model.OrderEvent
	nextID      int
	closed      bool
}

// NewBroker creates an empty broker.
func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[int]chan model.OrderEvent),
	}
}

// Subscribe registers a new subscriber and returns its channel together with
// an unsubscribe function. The channel is closed on unsubscribe or Close.
func (b *Broker) Subscribe() (<-chan model.OrderEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.OrderEvent, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Publish delivers the event to every subscriber that can take it.
func (b *Broker) Publish(ev model.OrderEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("notification dropped for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("orderID", ev.OrderID))
		}
	}
}

// Close shuts the broker down and closes all subscriber channels.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}

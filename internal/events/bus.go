// Package events is the in-process lifecycle event bus. Subscribers are
// either synchronous handlers (the journal) or buffered channels (the
// websocket stream). Delivery and retry beyond this process is the
// consuming collaborator's responsibility.
package events

import (
	"sync"
	"time"

	"github.com/openclear/tradecore/internal/domain"
)

// Type identifies a lifecycle event.
type Type string

const (
	OrderAccepted  Type = "order.accepted"
	OrderFilled    Type = "order.filled"
	OrderCancelled Type = "order.cancelled"
	OrderExpired   Type = "order.expired"
	OrderModified  Type = "order.modified"

	TradeExecuted Type = "trade.executed"

	SettlementCreated   Type = "settlement.created"
	SettlementConfirmed Type = "settlement.confirmed"
	SettlementSettled   Type = "settlement.settled"
	SettlementFailed    Type = "settlement.failed"
	SettlementCancelled Type = "settlement.cancelled"
)

// Event is one lifecycle notification. Exactly one payload field is set
// per event.
type Event struct {
	Type       Type                          `json:"type"`
	At         time.Time                     `json:"at"`
	Order      *domain.Order                 `json:"order,omitempty"`
	Trade      *domain.Trade                 `json:"trade,omitempty"`
	Settlement *domain.SettlementInstruction `json:"settlement,omitempty"`
}

// Handler is a synchronous subscriber, invoked inline during Publish.
type Handler func(Event)

// Bus fans events out to handlers and channel subscribers. Channel
// sends never block: a full subscriber drops the event. In-process
// handlers see every event.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	subs     map[int]chan Event
	nextID   int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// SubscribeFunc registers a synchronous handler.
func (b *Bus) SubscribeFunc(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Subscribe registers a buffered channel subscriber and returns the
// channel plus an unsubscribe function.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every handler, then offers it to every
// channel subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := b.handlers
	subs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
	for _, ch := range subs {
		select {
		case ch <- e:
		default: // slow subscriber, drop
		}
	}
}

package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openclear/tradecore/internal/domain"
)

// ExpiryManager tracks resting orders sorted by expires_at and
// periodically transitions orders whose expiration has passed to
// expired. DAY orders receive an end-of-day expiry on submission and
// flow through here like any other expiring order.
type ExpiryManager struct {
	interval  time.Duration
	books     *BookManager
	stops     *StopIndex
	onExpired func(*domain.Order) // fired outside the book lock; may be nil

	mu      sync.Mutex
	pending []*domain.Order // sorted by expires_at ASC
}

// NewExpiryManager creates an ExpiryManager. onExpired is invoked for
// every order that transitions to expired, outside any book lock.
func NewExpiryManager(interval time.Duration, books *BookManager, stops *StopIndex, onExpired func(*domain.Order)) *ExpiryManager {
	return &ExpiryManager{
		interval:  interval,
		books:     books,
		stops:     stops,
		onExpired: onExpired,
		pending:   make([]*domain.Order, 0),
	}
}

// Add inserts an order into the sorted pending slice, maintaining
// expires_at ASC order. Orders without an expiry are ignored.
func (e *ExpiryManager) Add(order *domain.Order) {
	if order.ExpiresAt == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	expiresAt := *order.ExpiresAt
	idx := sort.Search(len(e.pending), func(i int) bool {
		return e.pending[i].ExpiresAt.After(expiresAt)
	})
	e.pending = append(e.pending, nil)
	copy(e.pending[idx+1:], e.pending[idx:])
	e.pending[idx] = order
}

// Remove deletes an order from the pending slice by order ID.
func (e *ExpiryManager) Remove(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, o := range e.pending {
		if o.ID == orderID {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}

// Start launches a background goroutine that ticks at the configured
// interval and sweeps expired orders. It stops when ctx is cancelled.
func (e *ExpiryManager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				e.Sweep(t)
			}
		}
	}()
}

// Sweep expires every tracked order whose expires_at ≤ now and returns
// the orders that actually transitioned.
func (e *ExpiryManager) Sweep(now time.Time) []*domain.Order {
	e.mu.Lock()
	var due []*domain.Order
	cutoff := 0
	for cutoff < len(e.pending) {
		o := e.pending[cutoff]
		if o.ExpiresAt == nil || o.ExpiresAt.After(now) {
			break
		}
		due = append(due, o)
		cutoff++
	}
	if cutoff > 0 {
		e.pending = e.pending[cutoff:]
	}
	e.mu.Unlock()

	var expired []*domain.Order
	for _, order := range due {
		if e.expireOrder(order) {
			expired = append(expired, order)
		}
	}
	return expired
}

// expireOrder transitions a single order to expired under its book
// lock, re-checking the status first — the order may have filled or
// been cancelled since the last tick.
func (e *ExpiryManager) expireOrder(order *domain.Order) bool {
	book := e.books.GetOrCreate(order.Symbol)
	book.mu.Lock()

	switch order.Status {
	case domain.OrderStatusPending, domain.OrderStatusOpen, domain.OrderStatusPartiallyFilled:
		// Still eligible.
	default:
		book.mu.Unlock()
		return false
	}

	order.Status = domain.OrderStatusExpired
	order.UpdatedAt = time.Now()
	book.Remove(order.ID)
	book.mu.Unlock()

	// A parked stop order expires out of the stop index instead.
	if e.stops != nil {
		e.stops.Remove(order.ID)
	}

	if e.onExpired != nil {
		e.onExpired(order)
	}
	return true
}

// PendingCount returns the number of orders currently tracked for
// expiration. Useful for testing.
func (e *ExpiryManager) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

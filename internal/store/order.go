package store

import (
	"sync"

	"github.com/openclear/tradecore/internal/domain"
)

// OrderStore is a thread-safe in-memory store for orders, with a
// primary index by order ID and a secondary index by owner.
type OrderStore struct {
	mu          sync.RWMutex
	orders      map[string]*domain.Order
	ownerOrders map[string][]*domain.Order // owner → orders (append-only)
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:      make(map[string]*domain.Order),
		ownerOrders: make(map[string][]*domain.Order),
	}
}

// Create adds an order to the store and appends it to the owner's
// secondary index.
func (s *OrderStore) Create(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[o.ID] = o
	s.ownerOrders[o.Owner] = append(s.ownerOrders[o.Owner], o)
}

// Get retrieves an order by ID. It returns domain.ErrOrderNotFound if
// the order does not exist.
func (s *OrderStore) Get(id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

// ListByOwner returns orders for an owner in reverse chronological order
// (newest first). If status is non-nil, only orders matching that status
// are included. Pagination is 1-based. Returns the matching orders for
// the requested page and the total count before pagination.
func (s *OrderStore) ListByOwner(owner string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.ownerOrders[owner]

	filtered := make([]*domain.Order, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if status != nil && all[i].Status != *status {
			continue
		}
		filtered = append(filtered, all[i])
	}

	total := len(filtered)

	start := (page - 1) * limit
	if start >= total {
		return []*domain.Order{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return filtered[start:end], total
}

// Open returns all orders currently in a non-terminal status.
func (s *OrderStore) Open() []*domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Order
	for _, o := range s.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

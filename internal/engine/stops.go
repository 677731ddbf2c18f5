package engine

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/openclear/tradecore/internal/domain"
)

// stopEntry keys a parked stop order by trigger price and arrival time.
type stopEntry struct {
	Stop      int64
	CreatedAt time.Time
	OrderID   string
	Order     *domain.Order
}

// downLess orders entries by stop descending: Min() is the highest
// trigger, the first to fire as the price falls.
func downLess(a, b stopEntry) bool {
	if a.Stop != b.Stop {
		return a.Stop > b.Stop
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// upLess orders entries by stop ascending: Min() is the lowest trigger,
// the first to fire as the price rises.
func upLess(a, b stopEntry) bool {
	if a.Stop != b.Stop {
		return a.Stop < b.Stop
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// symbolStops holds the trigger structures for one symbol.
type symbolStops struct {
	down     *btree.BTreeG[stopEntry] // fire when price ≤ stop
	up       *btree.BTreeG[stopEntry] // fire when price ≥ stop
	trailing []*domain.Order          // ratchet on every tick, then check
}

func newSymbolStops() *symbolStops {
	const degree = 8
	return &symbolStops{
		down: btree.NewG[stopEntry](degree, downLess),
		up:   btree.NewG[stopEntry](degree, upLess),
	}
}

// StopIndex parks stop, stop-limit, take-profit, and trailing-stop
// orders until a trade price crosses their trigger. Every recorded
// trade price for a symbol is fed through OnPrice, which pops the
// orders whose trigger fired.
type StopIndex struct {
	mu      sync.Mutex
	symbols map[string]*symbolStops
	index   map[string]stopEntry // orderID → entry, for removal
}

// NewStopIndex creates an empty StopIndex.
func NewStopIndex() *StopIndex {
	return &StopIndex{
		symbols: make(map[string]*symbolStops),
		index:   make(map[string]stopEntry),
	}
}

func (s *StopIndex) forSymbol(symbol string) *symbolStops {
	ss, ok := s.symbols[symbol]
	if !ok {
		ss = newSymbolStops()
		s.symbols[symbol] = ss
	}
	return ss
}

// fallsToTrigger reports whether the order fires on a falling price
// (price ≤ stop): sell stops and buy take-profits.
func fallsToTrigger(o *domain.Order) bool {
	switch o.Type {
	case domain.OrderTypeStopLoss, domain.OrderTypeStopLimit, domain.OrderTypeTrailingStop:
		return o.Side == domain.SideSell
	case domain.OrderTypeTakeProfit:
		return o.Side == domain.SideBuy
	}
	return false
}

// Add parks a stop-type order.
func (s *StopIndex) Add(o *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss := s.forSymbol(o.Symbol)
	if o.Type == domain.OrderTypeTrailingStop {
		ss.trailing = append(ss.trailing, o)
		return
	}
	entry := stopEntry{Stop: o.StopPrice, CreatedAt: o.CreatedAt, OrderID: o.ID, Order: o}
	s.index[o.ID] = entry
	if fallsToTrigger(o) {
		ss.down.ReplaceOrInsert(entry)
	} else {
		ss.up.ReplaceOrInsert(entry)
	}
}

// Remove unparks an order by ID, returning it if present. Used for
// cancellation before the trigger fires.
func (s *StopIndex) Remove(orderID string) (*domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.index[orderID]; ok {
		delete(s.index, orderID)
		ss := s.forSymbol(entry.Order.Symbol)
		ss.down.Delete(entry)
		ss.up.Delete(entry)
		return entry.Order, true
	}
	// Trailing stops live in the per-symbol slices.
	for _, ss := range s.symbols {
		for i, o := range ss.trailing {
			if o.ID == orderID {
				ss.trailing = append(ss.trailing[:i], ss.trailing[i+1:]...)
				return o, true
			}
		}
	}
	return nil, false
}

// OnPrice feeds a trade price through the index: trailing stops ratchet
// toward the favorable side, then every order whose trigger is crossed
// is popped and returned for release into the matching engine. Call
// outside the symbol's book lock.
func (s *StopIndex) OnPrice(symbol string, price int64) []*domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	ss, ok := s.symbols[symbol]
	if !ok {
		return nil
	}

	var fired []*domain.Order

	// down set: fire every entry with stop ≥ price.
	for {
		entry, ok := ss.down.Min()
		if !ok || entry.Stop < price {
			break
		}
		ss.down.Delete(entry)
		delete(s.index, entry.OrderID)
		fired = append(fired, entry.Order)
	}

	// up set: fire every entry with stop ≤ price.
	for {
		entry, ok := ss.up.Min()
		if !ok || entry.Stop > price {
			break
		}
		ss.up.Delete(entry)
		delete(s.index, entry.OrderID)
		fired = append(fired, entry.Order)
	}

	// Trailing stops: ratchet first, then check the trigger.
	kept := ss.trailing[:0]
	for _, o := range ss.trailing {
		if o.Side == domain.SideSell {
			if stop := price - o.TrailingOffset; stop > o.StopPrice {
				o.StopPrice = stop
			}
			if price <= o.StopPrice {
				fired = append(fired, o)
				continue
			}
		} else {
			if o.StopPrice == 0 || price+o.TrailingOffset < o.StopPrice {
				o.StopPrice = price + o.TrailingOffset
			}
			if price >= o.StopPrice {
				fired = append(fired, o)
				continue
			}
		}
		kept = append(kept, o)
	}
	ss.trailing = kept

	return fired
}

// Count returns the number of parked stop orders for a symbol.
func (s *StopIndex) Count(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.symbols[symbol]
	if !ok {
		return 0
	}
	return ss.down.Len() + ss.up.Len() + len(ss.trailing)
}

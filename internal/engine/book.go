package engine

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/openclear/tradecore/internal/domain"
)

// BookEntry represents a single order resting on the book.
type BookEntry struct {
	Price     int64
	CreatedAt time.Time
	OrderID   string
	Order     *domain.Order
}

// Level is an aggregated price level, derived from the live resting
// orders and never persisted independently.
type Level struct {
	Price         int64
	TotalQuantity int64
	OrderCount    int
}

// bidLess defines ordering for the bid side: price descending, then
// created_at ascending, then order_id ascending. Min() returns the best
// bid (highest price, earliest time).
func bidLess(a, b BookEntry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// askLess defines ordering for the ask side: price ascending, then
// created_at ascending, then order_id ascending. Min() returns the best
// ask (lowest price, earliest time).
func askLess(a, b BookEntry) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// Book maintains the bid and ask sides for a single symbol using B-trees
// with a secondary index for O(log n) removal by order ID.
//
// The embedded mutex serializes every mutation for the symbol: submit,
// cancel, modify, match, auction, stop trigger, and expiry all run under
// it, so two orders are never matched concurrently against the same
// resting liquidity.
type Book struct {
	symbol string
	mu     sync.RWMutex
	bids   *btree.BTreeG[BookEntry]
	asks   *btree.BTreeG[BookEntry]
	index  map[string]BookEntry // order_id → entry
}

// NewBook creates an order book for the given symbol.
func NewBook(symbol string) *Book {
	const degree = 32
	return &Book{
		symbol: symbol,
		bids:   btree.NewG[BookEntry](degree, bidLess),
		asks:   btree.NewG[BookEntry](degree, askLess),
		index:  make(map[string]BookEntry),
	}
}

// Symbol returns the symbol this book serves.
func (b *Book) Symbol() string { return b.symbol }

// RLock acquires the read lock on the book.
func (b *Book) RLock() { b.mu.RLock() }

// RUnlock releases the read lock on the book.
func (b *Book) RUnlock() { b.mu.RUnlock() }

// Insert adds an entry to the side matching the order's side.
func (b *Book) Insert(entry BookEntry) {
	if entry.Order.Side == domain.SideBuy {
		b.bids.ReplaceOrInsert(entry)
	} else {
		b.asks.ReplaceOrInsert(entry)
	}
	b.index[entry.OrderID] = entry
}

// Remove deletes an order from the book by order ID using the secondary
// index. It tries both sides since Delete is a no-op when absent.
func (b *Book) Remove(orderID string) {
	entry, ok := b.index[orderID]
	if !ok {
		return
	}
	delete(b.index, orderID)
	b.bids.Delete(entry)
	b.asks.Delete(entry)
}

// Contains reports whether the order currently rests on the book.
func (b *Book) Contains(orderID string) bool {
	_, ok := b.index[orderID]
	return ok
}

// BestBid returns the highest-priority bid (highest price, earliest time).
func (b *Book) BestBid() (BookEntry, bool) {
	return b.bids.Min()
}

// BestAsk returns the highest-priority ask (lowest price, earliest time).
func (b *Book) BestAsk() (BookEntry, bool) {
	return b.asks.Min()
}

// BestOpposite returns the best entry on the side opposite to takerSide
// whose owner differs from owner. Same-owner entries are skipped, not
// matched — self-trade prevention. The skipped entries keep their place
// on the book.
func (b *Book) BestOpposite(takerSide domain.Side, owner string) (BookEntry, bool) {
	var best BookEntry
	var found bool
	walk := func(entry BookEntry) bool {
		if entry.Order.Owner == owner {
			return true // skip own resting order
		}
		best = entry
		found = true
		return false
	}
	if takerSide == domain.SideBuy {
		b.asks.Ascend(walk)
	} else {
		b.bids.Ascend(walk)
	}
	return best, found
}

// Crossed reports whether best bid ≥ best ask. A crossed book after
// matching indicates a consistency violation; this is a diagnostic
// query for internal alerting, never raised as an error.
func (b *Book) Crossed() bool {
	bid, okBid := b.bids.Min()
	ask, okAsk := b.asks.Min()
	return okBid && okAsk && bid.Price >= ask.Price
}

// AvailableQuantity sums the remaining quantity on the side opposite to
// takerSide that is price-compatible with limitPrice (0 means no limit)
// and not owned by owner. Used for FOK checks and fee estimates.
func (b *Book) AvailableQuantity(takerSide domain.Side, limitPrice int64, owner string) int64 {
	var total int64
	walk := func(entry BookEntry) bool {
		if limitPrice > 0 {
			if takerSide == domain.SideBuy && entry.Price > limitPrice {
				return false
			}
			if takerSide == domain.SideSell && entry.Price < limitPrice {
				return false
			}
		}
		if entry.Order.Owner != owner {
			total += entry.Order.RemainingQuantity
		}
		return true
	}
	if takerSide == domain.SideBuy {
		b.asks.Ascend(walk)
	} else {
		b.bids.Ascend(walk)
	}
	return total
}

// TopBids returns up to n aggregated price levels from the bid side,
// ordered by price descending.
func (b *Book) TopBids(n int) []Level {
	return topLevels(b.bids, n)
}

// TopAsks returns up to n aggregated price levels from the ask side,
// ordered by price ascending.
func (b *Book) TopAsks(n int) []Level {
	return topLevels(b.asks, n)
}

// topLevels iterates the B-tree in order and aggregates entries into
// at most n price levels.
func topLevels(tree *btree.BTreeG[BookEntry], n int) []Level {
	if n <= 0 {
		return nil
	}
	levels := make([]Level, 0, n)
	tree.Ascend(func(entry BookEntry) bool {
		if len(levels) > 0 && levels[len(levels)-1].Price == entry.Price {
			levels[len(levels)-1].TotalQuantity += entry.Order.RemainingQuantity
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, Level{
			Price:         entry.Price,
			TotalQuantity: entry.Order.RemainingQuantity,
			OrderCount:    1,
		})
		return true
	})
	return levels
}

// WalkAsks iterates asks in order (lowest price first). The callback
// returns true to continue, false to stop.
func (b *Book) WalkAsks(fn func(BookEntry) bool) {
	b.asks.Ascend(fn)
}

// WalkBids iterates bids in order (highest price first). The callback
// returns true to continue, false to stop.
func (b *Book) WalkBids(fn func(BookEntry) bool) {
	b.bids.Ascend(fn)
}

// BidCount returns the number of individual bid orders on the book.
func (b *Book) BidCount() int {
	return b.bids.Len()
}

// AskCount returns the number of individual ask orders on the book.
func (b *Book) AskCount() int {
	return b.asks.Len()
}

// BookManager is a thread-safe map of symbol → Book.
type BookManager struct {
	mu    sync.RWMutex
	books map[string]*Book
}

// NewBookManager creates a new BookManager.
func NewBookManager() *BookManager {
	return &BookManager{
		books: make(map[string]*Book),
	}
}

// GetOrCreate returns the book for the given symbol, creating one if it
// doesn't already exist.
func (bm *BookManager) GetOrCreate(symbol string) *Book {
	bm.mu.RLock()
	book, ok := bm.books[symbol]
	bm.mu.RUnlock()
	if ok {
		return book
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	// Double-check after acquiring write lock.
	if book, ok = bm.books[symbol]; ok {
		return book
	}
	book = NewBook(symbol)
	bm.books[symbol] = book
	return book
}

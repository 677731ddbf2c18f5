package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/openclear/tradecore/internal/domain"
	"github.com/openclear/tradecore/internal/fees"
	"github.com/openclear/tradecore/internal/ledger"
	"github.com/openclear/tradecore/internal/store"
)

// MatchResult summarizes one pass of the matching engine for an
// incoming order.
type MatchResult struct {
	Trades            []*domain.Trade
	RemainingQuantity int64
	FullyFilled       bool
}

// Matcher implements continuous price-time-priority matching. All book
// mutations for a symbol happen under that symbol's book lock, held for
// the entire matching pass.
type Matcher struct {
	books  *BookManager
	orders *store.OrderStore
	trades *ledger.Ledger
	pairs  *domain.PairRegistry
	fees   *fees.Calculator
}

// NewMatcher creates a Matcher with the given dependencies.
func NewMatcher(
	books *BookManager,
	orders *store.OrderStore,
	trades *ledger.Ledger,
	pairs *domain.PairRegistry,
	feeCalc *fees.Calculator,
) *Matcher {
	return &Matcher{
		books:  books,
		orders: orders,
		trades: trades,
		pairs:  pairs,
		fees:   feeCalc,
	}
}

// Books exposes the book manager for read-only queries (depth, crossed
// diagnostic).
func (m *Matcher) Books() *BookManager { return m.books }

// Process runs an incoming, already validated market or limit order
// through the matching engine. It assigns the order ID, persists the
// record, matches against the opposite side, and applies the
// time-in-force policy to any remainder:
//
//   - GTC/DAY limit remainders rest on the book;
//   - IOC remainders are cancelled;
//   - FOK orders are cancelled whole unless fully fillable up front;
//   - market orders are IOC by policy and never rest — an entirely
//     unfillable market order is rejected with ErrNoLiquidity before
//     any record is created.
func (m *Matcher) Process(order *domain.Order) (*MatchResult, error) {
	pair, err := m.pairs.Get(order.Symbol)
	if err != nil {
		return nil, err
	}

	book := m.books.GetOrCreate(order.Symbol)
	book.mu.Lock()
	defer book.mu.Unlock()

	if order.Type == domain.OrderTypeMarket {
		if _, ok := book.BestOpposite(order.Side, order.Owner); !ok {
			return nil, domain.ErrNoLiquidity
		}
	}

	now := time.Now()
	order.ID = uuid.New().String()
	order.CreatedAt = now
	order.UpdatedAt = now
	order.RemainingQuantity = order.Quantity
	order.FilledQuantity = 0
	order.Status = domain.OrderStatusPending
	order.Fills = []domain.Fill{}

	m.orders.Create(order)
	// Accepted: pending is only ever observable through the journal.
	order.Status = domain.OrderStatusOpen

	// FOK: check fillable volume before touching the book.
	if order.TimeInForce == domain.TimeInForceFOK {
		available := book.AvailableQuantity(order.Side, m.limitPrice(order), order.Owner)
		if available < order.Quantity {
			order.Status = domain.OrderStatusCancelled
			order.CancelReason = "fok_not_fillable"
			order.UpdatedAt = now
			return &MatchResult{RemainingQuantity: order.Quantity}, nil
		}
	}

	trades := m.matchLocked(book, order, pair)

	if order.RemainingQuantity > 0 {
		switch {
		case order.Type == domain.OrderTypeMarket, order.TimeInForce == domain.TimeInForceIOC:
			// Market remainders follow IOC: fill what the book offers,
			// cancel the rest. Recorded fills stand.
			order.Status = domain.OrderStatusCancelled
			order.CancelReason = "ioc_remainder"
			order.UpdatedAt = time.Now()
		default:
			book.Insert(BookEntry{
				Price:     order.Price,
				CreatedAt: order.CreatedAt,
				OrderID:   order.ID,
				Order:     order,
			})
		}
	}

	return &MatchResult{
		Trades:            trades,
		RemainingQuantity: order.RemainingQuantity,
		FullyFilled:       order.FilledQuantity == order.Quantity,
	}, nil
}

// limitPrice returns the price bound for compatibility checks; 0 means
// unbounded (market orders).
func (m *Matcher) limitPrice(order *domain.Order) int64 {
	if order.Type == domain.OrderTypeMarket {
		return 0
	}
	return order.Price
}

// compatible reports whether the incoming order may trade against a
// resting price: buys at or below the incoming limit, sells at or above.
// Market orders accept any price.
func compatible(order *domain.Order, restingPrice int64) bool {
	if order.Type == domain.OrderTypeMarket {
		return true
	}
	if order.Side == domain.SideBuy {
		return order.Price >= restingPrice
	}
	return order.Price <= restingPrice
}

// matchLocked runs the match loop. The caller holds the book lock.
//
// Each iteration consumes min(incoming remaining, resting remaining) at
// the resting (maker) order's price, emits one trade, and applies the
// fill to both orders. Resting orders owned by the incoming order's
// owner are skipped, not matched.
func (m *Matcher) matchLocked(book *Book, order *domain.Order, pair *domain.TradingPair) []*domain.Trade {
	var trades []*domain.Trade

	for order.RemainingQuantity > 0 {
		entry, found := book.BestOpposite(order.Side, order.Owner)
		if !found {
			break
		}
		if !compatible(order, entry.Price) {
			break
		}

		resting := entry.Order

		fillQty := order.RemainingQuantity
		if resting.RemainingQuantity < fillQty {
			fillQty = resting.RemainingQuantity
		}

		// Execution price is always the maker's resting price.
		price := entry.Price
		notional := price * fillQty
		makerFee := m.fees.Fee(notional, pair.MakerFeeRate)
		takerFee := m.fees.Fee(notional, pair.TakerFeeRate)

		now := time.Now()
		trade := &domain.Trade{
			ID:           uuid.New().String(),
			Symbol:       order.Symbol,
			MakerOrderID: resting.ID,
			TakerOrderID: order.ID,
			MakerOwner:   resting.Owner,
			TakerOwner:   order.Owner,
			TakerSide:    order.Side,
			Quantity:     fillQty,
			Price:        price,
			Notional:     notional,
			MakerFee:     makerFee,
			TakerFee:     takerFee,
			Status:       domain.TradeStatusPending,
			MatchedAt:    now,
		}

		// Fill quantities are clamped to remaining above, so neither
		// ApplyFill can fail here.
		_ = order.ApplyFill(domain.Fill{
			Quantity: fillQty, Price: price, Fee: takerFee, TradeID: trade.ID, Timestamp: now,
		})
		_ = resting.ApplyFill(domain.Fill{
			Quantity: fillQty, Price: price, Fee: makerFee, TradeID: trade.ID, Timestamp: now,
		})

		m.trades.Record(trade)
		trades = append(trades, trade)

		if resting.RemainingQuantity == 0 {
			book.Remove(resting.ID)
		}
	}

	return trades
}

// Cancel cancels an order on behalf of actor. Only the owner may cancel,
// and only from pending, open, or partially filled. Cancellation never
// reverses a recorded fill: if a match won the book lock first, the
// cancel fails with ErrStateConflict.
func (m *Matcher) Cancel(orderID, actor, reason string) (*domain.Order, error) {
	order, err := m.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	if order.Owner != actor {
		return nil, domain.ErrUnauthorized
	}
	if !order.Status.Cancellable() {
		return nil, domain.ErrStateConflict
	}

	book := m.books.GetOrCreate(order.Symbol)
	book.mu.Lock()
	defer book.mu.Unlock()

	// Re-check under lock: a concurrent match may have filled it.
	if !order.Status.Cancellable() {
		return nil, domain.ErrStateConflict
	}

	book.Remove(order.ID)
	order.Status = domain.OrderStatusCancelled
	order.CancelReason = reason
	order.UpdatedAt = time.Now()

	return order, nil
}

// ModifyFields carries the mutable subset of an order for Modify. Nil
// fields are left unchanged.
type ModifyFields struct {
	Price      *int64
	Quantity   *int64
	StopPrice  *int64
	LimitPrice *int64
	ExpiresAt  *time.Time
}

// Modify updates a resting order's price, quantity, or expiry. Allowed
// only from pending or open (before any fill); the new quantity must
// not shrink below the filled amount. A price change can cross the
// book, so the order re-enters matching with a fresh arrival time —
// modification forfeits time priority.
func (m *Matcher) Modify(orderID, actor string, fields ModifyFields) (*domain.Order, *MatchResult, error) {
	order, err := m.orders.Get(orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.Owner != actor {
		return nil, nil, domain.ErrUnauthorized
	}

	pair, err := m.pairs.Get(order.Symbol)
	if err != nil {
		return nil, nil, err
	}

	book := m.books.GetOrCreate(order.Symbol)
	book.mu.Lock()
	defer book.mu.Unlock()

	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusOpen {
		return nil, nil, domain.ErrStateConflict
	}

	if fields.Quantity != nil {
		if *fields.Quantity < order.FilledQuantity || *fields.Quantity <= 0 {
			return nil, nil, domain.ErrStateConflict
		}
	}

	book.Remove(order.ID)

	now := time.Now()
	if fields.Price != nil {
		order.Price = *fields.Price
	}
	if fields.Quantity != nil {
		order.Quantity = *fields.Quantity
		order.RemainingQuantity = order.Quantity - order.FilledQuantity
	}
	if fields.StopPrice != nil {
		order.StopPrice = *fields.StopPrice
	}
	if fields.LimitPrice != nil {
		order.LimitPrice = *fields.LimitPrice
	}
	if fields.ExpiresAt != nil {
		order.ExpiresAt = fields.ExpiresAt
	}
	order.CreatedAt = now // fresh time priority
	order.UpdatedAt = now

	trades := m.matchLocked(book, order, pair)

	if order.RemainingQuantity > 0 {
		book.Insert(BookEntry{
			Price:     order.Price,
			CreatedAt: order.CreatedAt,
			OrderID:   order.ID,
			Order:     order,
		})
	}

	return order, &MatchResult{
		Trades:            trades,
		RemainingQuantity: order.RemainingQuantity,
		FullyFilled:       order.FilledQuantity == order.Quantity,
	}, nil
}

// Release runs a previously accepted stop order through matching after
// its trigger fired. The order converts to its effective type:
// stop_limit becomes a limit order at its LimitPrice; stop_loss,
// take_profit, and trailing_stop become market orders (and so follow the
// market IOC remainder policy). A released market order that finds no
// liquidity is cancelled, not rejected — the order already exists.
func (m *Matcher) Release(order *domain.Order) (*MatchResult, error) {
	pair, err := m.pairs.Get(order.Symbol)
	if err != nil {
		return nil, err
	}

	if order.Type == domain.OrderTypeStopLimit {
		order.Type = domain.OrderTypeLimit
		order.Price = order.LimitPrice
	} else {
		order.Type = domain.OrderTypeMarket
		order.Price = 0
	}

	book := m.books.GetOrCreate(order.Symbol)
	book.mu.Lock()
	defer book.mu.Unlock()

	trades := m.matchLocked(book, order, pair)

	if order.RemainingQuantity > 0 {
		if order.Type == domain.OrderTypeMarket {
			order.Status = domain.OrderStatusCancelled
			order.CancelReason = "ioc_remainder"
			order.UpdatedAt = time.Now()
		} else {
			book.Insert(BookEntry{
				Price:     order.Price,
				CreatedAt: order.CreatedAt,
				OrderID:   order.ID,
				Order:     order,
			})
		}
	}

	return &MatchResult{
		Trades:            trades,
		RemainingQuantity: order.RemainingQuantity,
		FullyFilled:       order.FilledQuantity == order.Quantity,
	}, nil
}

// Restore places a recovered resting order back on its book without
// matching. Used by journal replay.
func (m *Matcher) Restore(order *domain.Order) {
	book := m.books.GetOrCreate(order.Symbol)
	book.mu.Lock()
	defer book.mu.Unlock()
	book.Insert(BookEntry{
		Price:     order.Price,
		CreatedAt: order.CreatedAt,
		OrderID:   order.ID,
		Order:     order,
	})
}

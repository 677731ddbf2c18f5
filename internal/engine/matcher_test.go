package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openclear/tradecore/internal/domain"
	"github.com/openclear/tradecore/internal/fees"
	"github.com/openclear/tradecore/internal/ledger"
	"github.com/openclear/tradecore/internal/store"
)

// testPair returns a permissive pair for matching tests: 0.1% maker /
// 0.2% taker fees, tick size one cent.
func testPair(symbol string) *domain.TradingPair {
	return &domain.TradingPair{
		Symbol:            symbol,
		Status:            domain.PairEnabled,
		TickSize:          1,
		MinQuantity:       1,
		MaxQuantity:       1_000_000,
		MinPrice:          1,
		MaxPrice:          100_000_00,
		MakerFeeRate:      decimal.NewFromFloat(0.001),
		TakerFeeRate:      decimal.NewFromFloat(0.002),
		MaxPriceDeviation: decimal.NewFromFloat(0.10),
		AssetType:         "equity",
		QuoteCurrency:     "USD",
	}
}

// newTestMatcher creates a Matcher with fresh stores and an AAPL pair.
func newTestMatcher(t *testing.T) (*Matcher, *store.OrderStore, *ledger.Ledger) {
	t.Helper()
	books := NewBookManager()
	orderStore := store.NewOrderStore()
	trades := ledger.New(nil)
	pairs := domain.NewPairRegistry()
	if err := pairs.Register(testPair("AAPL")); err != nil {
		t.Fatalf("register pair: %v", err)
	}
	return NewMatcher(books, orderStore, trades, pairs, fees.NewCalculator()), orderStore, trades
}

// limitOrder creates a GTC limit order struct (not yet submitted).
func limitOrder(owner string, side domain.Side, price, qty int64) *domain.Order {
	return &domain.Order{
		Owner:       owner,
		Symbol:      "AAPL",
		Side:        side,
		Type:        domain.OrderTypeLimit,
		TimeInForce: domain.TimeInForceGTC,
		Price:       price,
		Quantity:    qty,
	}
}

// marketOrder creates a market order struct (not yet submitted).
func marketOrder(owner string, side domain.Side, qty int64) *domain.Order {
	return &domain.Order{
		Owner:       owner,
		Symbol:      "AAPL",
		Side:        side,
		Type:        domain.OrderTypeMarket,
		TimeInForce: domain.TimeInForceIOC,
		Quantity:    qty,
	}
}

func TestProcess_LimitNoMatch_RestsOpen(t *testing.T) {
	m, _, _ := newTestMatcher(t)

	order := limitOrder("alice", domain.SideBuy, 15000, 5)
	result, err := m.Process(order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Trades) != 0 {
		t.Errorf("expected 0 trades, got %d", len(result.Trades))
	}
	if order.Status != domain.OrderStatusOpen {
		t.Errorf("expected status open, got %s", order.Status)
	}
	if order.ID == "" {
		t.Error("expected order ID to be assigned")
	}
	if m.books.GetOrCreate("AAPL").BidCount() != 1 {
		t.Error("expected order on the bid side")
	}
}

func TestProcess_FullMatch_AtMakerPrice(t *testing.T) {
	m, _, trades := newTestMatcher(t)

	ask := limitOrder("seller", domain.SideSell, 15000, 5)
	if _, err := m.Process(ask); err != nil {
		t.Fatalf("ask error: %v", err)
	}

	// Buyer crosses at a higher limit; execution stays at the resting price.
	bid := limitOrder("buyer", domain.SideBuy, 15100, 5)
	result, err := m.Process(bid)
	if err != nil {
		t.Fatalf("bid error: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}

	trade := result.Trades[0]
	if trade.Price != 15000 {
		t.Errorf("expected execution at maker price 15000, got %d", trade.Price)
	}
	if trade.MakerOwner != "seller" || trade.TakerOwner != "buyer" {
		t.Errorf("wrong maker/taker attribution: %s/%s", trade.MakerOwner, trade.TakerOwner)
	}
	if trade.Notional != 75000 {
		t.Errorf("expected notional 75000, got %d", trade.Notional)
	}
	// 0.1% and 0.2% of 75000 cents.
	if trade.MakerFee != 75 || trade.TakerFee != 150 {
		t.Errorf("expected fees 75/150, got %d/%d", trade.MakerFee, trade.TakerFee)
	}

	if bid.Status != domain.OrderStatusFilled || ask.Status != domain.OrderStatusFilled {
		t.Errorf("expected both filled, got %s/%s", bid.Status, ask.Status)
	}
	if got := len(trades.BySymbol("AAPL")); got != 1 {
		t.Errorf("expected trade recorded in ledger, got %d", got)
	}
	book := m.books.GetOrCreate("AAPL")
	if book.AskCount() != 0 || book.BidCount() != 0 {
		t.Error("expected empty book after full match")
	}
}

func TestProcess_MarketBuySweepsLevels(t *testing.T) {
	m, _, _ := newTestMatcher(t)

	if _, err := m.Process(limitOrder("s1", domain.SideSell, 1000, 5)); err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if _, err := m.Process(limitOrder("s2", domain.SideSell, 1100, 5)); err != nil {
		t.Fatalf("ask error: %v", err)
	}

	buy := marketOrder("buyer", domain.SideBuy, 8)
	result, err := m.Process(buy)
	if err != nil {
		t.Fatalf("market buy error: %v", err)
	}
	if len(result.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(result.Trades))
	}
	if result.Trades[0].Quantity != 5 || result.Trades[0].Price != 1000 {
		t.Errorf("first trade should be 5@1000, got %d@%d", result.Trades[0].Quantity, result.Trades[0].Price)
	}
	if result.Trades[1].Quantity != 3 || result.Trades[1].Price != 1100 {
		t.Errorf("second trade should be 3@1100, got %d@%d", result.Trades[1].Quantity, result.Trades[1].Price)
	}
	if !result.FullyFilled || buy.Status != domain.OrderStatusFilled {
		t.Errorf("expected full fill, got status %s", buy.Status)
	}

	// (5×1000 + 3×1100) / 8 = 1037.5 cents, sub-cent precision kept.
	avg, ok := buy.AveragePrice()
	if !ok || !avg.Equal(decimal.NewFromFloat(1037.5)) {
		t.Errorf("expected average price 1037.5, got %s", avg)
	}

	// The partially consumed ask stays on the book.
	book := m.books.GetOrCreate("AAPL")
	if book.AskCount() != 1 {
		t.Errorf("expected 1 remaining ask, got %d", book.AskCount())
	}
	best, _ := book.BestAsk()
	if best.Order.RemainingQuantity != 2 {
		t.Errorf("expected remaining 2 on resting ask, got %d", best.Order.RemainingQuantity)
	}
}

func TestProcess_MarketNoLiquidity_Rejected(t *testing.T) {
	m, orders, _ := newTestMatcher(t)

	buy := marketOrder("buyer", domain.SideBuy, 5)
	_, err := m.Process(buy)
	if !errors.Is(err, domain.ErrNoLiquidity) {
		t.Fatalf("expected ErrNoLiquidity, got %v", err)
	}
	// Rejected before any record exists.
	if buy.ID != "" {
		t.Error("rejected market order must not receive an ID")
	}
	if got, _ := orders.ListByOwner("buyer", nil, 1, 10); len(got) != 0 {
		t.Errorf("expected no stored orders, got %d", len(got))
	}
}

func TestProcess_MarketPartialFill_RemainderCancelled(t *testing.T) {
	m, _, _ := newTestMatcher(t)

	if _, err := m.Process(limitOrder("seller", domain.SideSell, 1000, 3)); err != nil {
		t.Fatalf("ask error: %v", err)
	}

	buy := marketOrder("buyer", domain.SideBuy, 8)
	result, err := m.Process(buy)
	if err != nil {
		t.Fatalf("market buy error: %v", err)
	}
	if len(result.Trades) != 1 || result.Trades[0].Quantity != 3 {
		t.Fatalf("expected one trade of 3, got %+v", result.Trades)
	}
	if buy.Status != domain.OrderStatusCancelled {
		t.Errorf("expected remainder cancelled, got %s", buy.Status)
	}
	if buy.CancelReason != "ioc_remainder" {
		t.Errorf("unexpected cancel reason: %s", buy.CancelReason)
	}
	if buy.FilledQuantity != 3 || buy.RemainingQuantity != 5 {
		t.Errorf("recorded fills must stand: %d/%d", buy.FilledQuantity, buy.RemainingQuantity)
	}
}

func TestProcess_IOCLimit_RemainderCancelled(t *testing.T) {
	m, _, _ := newTestMatcher(t)

	if _, err := m.Process(limitOrder("seller", domain.SideSell, 1000, 3)); err != nil {
		t.Fatalf("ask error: %v", err)
	}

	bid := limitOrder("buyer", domain.SideBuy, 1000, 10)
	bid.TimeInForce = domain.TimeInForceIOC
	result, err := m.Process(bid)
	if err != nil {
		t.Fatalf("bid error: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}
	if bid.Status != domain.OrderStatusCancelled {
		t.Errorf("IOC remainder must cancel, got %s", bid.Status)
	}
	if m.books.GetOrCreate("AAPL").BidCount() != 0 {
		t.Error("IOC order must not rest")
	}
}

func TestProcess_FOK_NotFillable_CancelledWhole(t *testing.T) {
	m, _, trades := newTestMatcher(t)

	if _, err := m.Process(limitOrder("seller", domain.SideSell, 1000, 3)); err != nil {
		t.Fatalf("ask error: %v", err)
	}

	bid := limitOrder("buyer", domain.SideBuy, 1000, 5)
	bid.TimeInForce = domain.TimeInForceFOK
	result, err := m.Process(bid)
	if err != nil {
		t.Fatalf("bid error: %v", err)
	}
	if len(result.Trades) != 0 {
		t.Fatalf("FOK must not partially fill, got %d trades", len(result.Trades))
	}
	if bid.Status != domain.OrderStatusCancelled || bid.CancelReason != "fok_not_fillable" {
		t.Errorf("expected fok cancel, got %s (%s)", bid.Status, bid.CancelReason)
	}
	if got := len(trades.BySymbol("AAPL")); got != 0 {
		t.Errorf("expected no trades recorded, got %d", got)
	}
	// The resting ask is untouched.
	best, _ := m.books.GetOrCreate("AAPL").BestAsk()
	if best.Order.RemainingQuantity != 3 {
		t.Errorf("resting ask must be untouched, remaining %d", best.Order.RemainingQuantity)
	}
}

func TestProcess_FOK_FillableAcrossLevels(t *testing.T) {
	m, _, _ := newTestMatcher(t)

	if _, err := m.Process(limitOrder("s1", domain.SideSell, 1000, 3)); err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if _, err := m.Process(limitOrder("s2", domain.SideSell, 1050, 4)); err != nil {
		t.Fatalf("ask error: %v", err)
	}

	bid := limitOrder("buyer", domain.SideBuy, 1100, 6)
	bid.TimeInForce = domain.TimeInForceFOK
	result, err := m.Process(bid)
	if err != nil {
		t.Fatalf("bid error: %v", err)
	}
	if !result.FullyFilled {
		t.Fatal("FOK order covered by two levels must fill fully")
	}
	if len(result.Trades) != 2 {
		t.Errorf("expected 2 trades, got %d", len(result.Trades))
	}
}

func TestProcess_SelfTradePrevented(t *testing.T) {
	m, _, _ := newTestMatcher(t)

	// alice's own ask at the best price must be skipped, not matched.
	if _, err := m.Process(limitOrder("alice", domain.SideSell, 1000, 5)); err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if _, err := m.Process(limitOrder("bob", domain.SideSell, 1100, 5)); err != nil {
		t.Fatalf("ask error: %v", err)
	}

	bid := limitOrder("alice", domain.SideBuy, 1100, 5)
	result, err := m.Process(bid)
	if err != nil {
		t.Fatalf("bid error: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.MakerOwner == trade.TakerOwner {
		t.Error("self-trade must never execute")
	}
	if trade.MakerOwner != "bob" || trade.Price != 1100 {
		t.Errorf("expected match against bob at 1100, got %s@%d", trade.MakerOwner, trade.Price)
	}
	// alice's resting ask stays on the book.
	best, ok := m.books.GetOrCreate("AAPL").BestAsk()
	if !ok || best.Order.Owner != "alice" {
		t.Error("skipped same-owner ask must stay on the book")
	}
}

func TestProcess_TimePriorityAtEqualPrice(t *testing.T) {
	m, _, _ := newTestMatcher(t)

	first := limitOrder("s1", domain.SideSell, 1000, 5)
	if _, err := m.Process(first); err != nil {
		t.Fatalf("ask error: %v", err)
	}
	time.Sleep(time.Millisecond)
	second := limitOrder("s2", domain.SideSell, 1000, 5)
	if _, err := m.Process(second); err != nil {
		t.Fatalf("ask error: %v", err)
	}

	result, err := m.Process(marketOrder("buyer", domain.SideBuy, 5))
	if err != nil {
		t.Fatalf("buy error: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}
	if result.Trades[0].MakerOrderID != first.ID {
		t.Error("earlier order at the same price must fill first")
	}
}

func TestCancel(t *testing.T) {
	m, _, _ := newTestMatcher(t)

	order := limitOrder("alice", domain.SideBuy, 1000, 5)
	if _, err := m.Process(order); err != nil {
		t.Fatalf("process error: %v", err)
	}

	if _, err := m.Cancel(order.ID, "mallory", "test"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for non-owner, got %v", err)
	}

	cancelled, err := m.Cancel(order.ID, "alice", "cancelled_by_owner")
	if err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if m.books.GetOrCreate("AAPL").BidCount() != 0 {
		t.Error("cancelled order must leave the book")
	}

	if _, err := m.Cancel(order.ID, "alice", "again"); !errors.Is(err, domain.ErrStateConflict) {
		t.Errorf("expected ErrStateConflict on double cancel, got %v", err)
	}
}

func TestCancel_FilledOrder_Conflict(t *testing.T) {
	m, _, _ := newTestMatcher(t)

	ask := limitOrder("seller", domain.SideSell, 1000, 5)
	if _, err := m.Process(ask); err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if _, err := m.Process(limitOrder("buyer", domain.SideBuy, 1000, 5)); err != nil {
		t.Fatalf("bid error: %v", err)
	}

	if _, err := m.Cancel(ask.ID, "seller", "too late"); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
	if ask.Status != domain.OrderStatusFilled {
		t.Errorf("failed cancel must not change status, got %s", ask.Status)
	}
}

func TestModify_PriceChange_Rematches(t *testing.T) {
	m, _, _ := newTestMatcher(t)

	if _, err := m.Process(limitOrder("seller", domain.SideSell, 1100, 5)); err != nil {
		t.Fatalf("ask error: %v", err)
	}
	bid := limitOrder("buyer", domain.SideBuy, 1000, 5)
	if _, err := m.Process(bid); err != nil {
		t.Fatalf("bid error: %v", err)
	}

	newPrice := int64(1100)
	_, result, err := m.Modify(bid.ID, "buyer", ModifyFields{Price: &newPrice})
	if err != nil {
		t.Fatalf("modify error: %v", err)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("price change crossing the book must trade, got %d trades", len(result.Trades))
	}
	if bid.Status != domain.OrderStatusFilled {
		t.Errorf("expected filled after rematch, got %s", bid.Status)
	}
}

func TestModify_LosesTimePriority(t *testing.T) {
	m, _, _ := newTestMatcher(t)

	first := limitOrder("s1", domain.SideSell, 1000, 5)
	if _, err := m.Process(first); err != nil {
		t.Fatalf("ask error: %v", err)
	}
	time.Sleep(time.Millisecond)
	second := limitOrder("s2", domain.SideSell, 1000, 5)
	if _, err := m.Process(second); err != nil {
		t.Fatalf("ask error: %v", err)
	}

	// A no-op-ish modify still refreshes arrival time.
	qty := int64(5)
	if _, _, err := m.Modify(first.ID, "s1", ModifyFields{Quantity: &qty}); err != nil {
		t.Fatalf("modify error: %v", err)
	}

	result, err := m.Process(marketOrder("buyer", domain.SideBuy, 5))
	if err != nil {
		t.Fatalf("buy error: %v", err)
	}
	if result.Trades[0].MakerOrderID != second.ID {
		t.Error("modified order must lose time priority")
	}
}

func TestModify_AfterFill_Conflict(t *testing.T) {
	m, _, _ := newTestMatcher(t)

	ask := limitOrder("seller", domain.SideSell, 1000, 5)
	if _, err := m.Process(ask); err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if _, err := m.Process(limitOrder("buyer", domain.SideBuy, 1000, 2)); err != nil {
		t.Fatalf("bid error: %v", err)
	}

	// Partially filled: modification is no longer allowed.
	qty := int64(10)
	if _, _, err := m.Modify(ask.ID, "seller", ModifyFields{Quantity: &qty}); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
}

func TestRelease_StopLimit_BecomesLimit(t *testing.T) {
	m, orders, _ := newTestMatcher(t)

	stop := &domain.Order{
		ID:                "stop-1",
		Owner:             "alice",
		Symbol:            "AAPL",
		Side:              domain.SideSell,
		Type:              domain.OrderTypeStopLimit,
		TimeInForce:       domain.TimeInForceGTC,
		Quantity:          5,
		RemainingQuantity: 5,
		StopPrice:         1000,
		LimitPrice:        950,
		Status:            domain.OrderStatusOpen,
		CreatedAt:         time.Now(),
	}
	orders.Create(stop)

	result, err := m.Release(stop)
	if err != nil {
		t.Fatalf("release error: %v", err)
	}
	if len(result.Trades) != 0 {
		t.Errorf("expected no trades on empty book, got %d", len(result.Trades))
	}
	if stop.Type != domain.OrderTypeLimit || stop.Price != 950 {
		t.Errorf("stop_limit must convert to limit@950, got %s@%d", stop.Type, stop.Price)
	}
	if m.books.GetOrCreate("AAPL").AskCount() != 1 {
		t.Error("released limit must rest on the book")
	}
}

func TestRelease_StopLoss_MarketNoLiquidity_Cancelled(t *testing.T) {
	m, orders, _ := newTestMatcher(t)

	stop := &domain.Order{
		ID:                "stop-2",
		Owner:             "alice",
		Symbol:            "AAPL",
		Side:              domain.SideSell,
		Type:              domain.OrderTypeStopLoss,
		TimeInForce:       domain.TimeInForceGTC,
		Quantity:          5,
		RemainingQuantity: 5,
		StopPrice:         1000,
		Status:            domain.OrderStatusOpen,
		CreatedAt:         time.Now(),
	}
	orders.Create(stop)

	if _, err := m.Release(stop); err != nil {
		t.Fatalf("release error: %v", err)
	}
	if stop.Status != domain.OrderStatusCancelled {
		t.Errorf("released market order with no liquidity must cancel, got %s", stop.Status)
	}
}

package engine

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/openclear/tradecore/internal/domain"
	"github.com/openclear/tradecore/internal/fees"
	"github.com/openclear/tradecore/internal/ledger"
	"github.com/openclear/tradecore/internal/store"
)

// Submits a random stream of limit and market orders and checks the
// book-wide invariants that must hold at every point.
func TestProperty_MatchingInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		books := NewBookManager()
		orderStore := store.NewOrderStore()
		trades := ledger.New(nil)
		pairs := domain.NewPairRegistry()
		if err := pairs.Register(testPair("AAPL")); err != nil {
			t.Fatalf("register pair: %v", err)
		}
		m := NewMatcher(books, orderStore, trades, pairs, fees.NewCalculator())

		owners := []string{"alice", "bob", "carol"}
		var submitted []*domain.Order

		n := rapid.IntRange(1, 40).Draw(t, "orders")
		for i := 0; i < n; i++ {
			owner := rapid.SampledFrom(owners).Draw(t, "owner")
			side := domain.SideBuy
			if rapid.Bool().Draw(t, "sell") {
				side = domain.SideSell
			}
			qty := rapid.Int64Range(1, 20).Draw(t, "qty")

			var order *domain.Order
			if rapid.Bool().Draw(t, "market") {
				order = marketOrder(owner, side, qty)
			} else {
				price := rapid.Int64Range(900, 1100).Draw(t, "price")
				order = limitOrder(owner, side, price, qty)
			}

			_, err := m.Process(order)
			if err != nil {
				// ErrNoLiquidity is the only acceptable rejection here.
				if order.Type != domain.OrderTypeMarket {
					t.Fatalf("unexpected error: %v", err)
				}
				continue
			}
			submitted = append(submitted, order)

			// Quantity conservation on every order seen so far.
			for _, o := range submitted {
				if o.FilledQuantity+o.RemainingQuantity != o.Quantity {
					t.Fatalf("order %s: filled %d + remaining %d != quantity %d",
						o.ID, o.FilledQuantity, o.RemainingQuantity, o.Quantity)
				}
			}

			// Continuous matching never leaves a crossed book.
			book := books.GetOrCreate("AAPL")
			book.RLock()
			crossed := book.Crossed()
			book.RUnlock()
			if crossed {
				// Same-owner pairs may legitimately cross; any cross must
				// involve a same-owner top of book.
				book.RLock()
				bid, okB := book.BestBid()
				ask, okA := book.BestAsk()
				book.RUnlock()
				if okB && okA && bid.Order.Owner != ask.Order.Owner {
					t.Fatalf("book crossed between different owners: bid %d ask %d", bid.Price, ask.Price)
				}
			}
		}

		// No trade ever matched an owner with itself, and every trade
		// executed within the taker's limit.
		for _, trade := range trades.BySymbol("AAPL") {
			if trade.MakerOwner == trade.TakerOwner {
				t.Fatalf("self-trade recorded: %s", trade.ID)
			}
			taker, err := orderStore.Get(trade.TakerOrderID)
			if err != nil {
				t.Fatalf("taker lookup: %v", err)
			}
			if taker.Type == domain.OrderTypeLimit {
				if taker.Side == domain.SideBuy && trade.Price > taker.Price {
					t.Fatalf("buy executed above limit: %d > %d", trade.Price, taker.Price)
				}
				if taker.Side == domain.SideSell && trade.Price < taker.Price {
					t.Fatalf("sell executed below limit: %d < %d", trade.Price, taker.Price)
				}
			}
		}
	})
}

// Auction volume never exceeds what either side offered, and the
// uniform clearing price is honored on every trade.
func TestProperty_AuctionUniformPrice(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		books := NewBookManager()
		orderStore := store.NewOrderStore()
		trades := ledger.New(nil)
		pairs := domain.NewPairRegistry()
		if err := pairs.Register(testPair("AAPL")); err != nil {
			t.Fatalf("register pair: %v", err)
		}
		m := NewMatcher(books, orderStore, trades, pairs, fees.NewCalculator())
		a := NewAuctioneer(m)

		var bidTotal, askTotal int64
		nBids := rapid.IntRange(1, 10).Draw(t, "bids")
		for i := 0; i < nBids; i++ {
			price := rapid.Int64Range(900, 1100).Draw(t, "bidPrice")
			qty := rapid.Int64Range(1, 20).Draw(t, "bidQty")
			insertResting(m, fmt.Sprintf("bid-%d", i), "buyer", domain.SideBuy, price, qty)
			bidTotal += qty
		}
		nAsks := rapid.IntRange(1, 10).Draw(t, "asks")
		for i := 0; i < nAsks; i++ {
			price := rapid.Int64Range(900, 1100).Draw(t, "askPrice")
			qty := rapid.Int64Range(1, 20).Draw(t, "askQty")
			insertResting(m, fmt.Sprintf("ask-%d", i), "seller", domain.SideSell, price, qty)
			askTotal += qty
		}

		result, err := a.Run("AAPL")
		if err != nil {
			// No crossing candidate is a valid outcome.
			return
		}

		if result.Volume > bidTotal || result.Volume > askTotal {
			t.Fatalf("volume %d exceeds a side's total (%d bids, %d asks)", result.Volume, bidTotal, askTotal)
		}
		for _, trade := range result.Trades {
			if trade.Price != result.ClearingPrice {
				t.Fatalf("trade at %d, clearing price %d", trade.Price, result.ClearingPrice)
			}
			if trade.MakerOwner == trade.TakerOwner {
				t.Fatalf("self-trade in auction: %s", trade.ID)
			}
		}
	})
}

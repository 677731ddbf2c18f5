package engine

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openclear/tradecore/internal/domain"
)

// AuctionResult summarizes one batch auction run.
type AuctionResult struct {
	ClearingPrice int64
	Volume        int64
	Trades        []*domain.Trade
}

// Auctioneer executes batch auctions over a symbol's resting book.
//
// Candidate clearing prices are every price resting on either side. For
// each candidate p the matchable volume is
// min(Σ bid quantity at price ≥ p, Σ ask quantity at price ≤ p); the
// clearing price maximizes that volume, with ties resolved to the
// lowest candidate. All crossing orders execute at the single clearing
// price. Allocation follows price priority across levels and strict
// time priority within a level — the B-tree iteration order — so the
// allocation rule is deterministic and documented rather than an
// accident of insertion order.
type Auctioneer struct {
	matcher *Matcher
}

// NewAuctioneer creates an Auctioneer sharing the matcher's book,
// stores, and fee configuration.
func NewAuctioneer(matcher *Matcher) *Auctioneer {
	return &Auctioneer{matcher: matcher}
}

// Run executes a batch auction for the symbol. Returns ErrNoCross when
// no candidate price yields positive volume; the book is left untouched
// in that case.
func (a *Auctioneer) Run(symbol string) (*AuctionResult, error) {
	pair, err := a.matcher.pairs.Get(symbol)
	if err != nil {
		return nil, err
	}

	book := a.matcher.books.GetOrCreate(symbol)
	book.mu.Lock()
	defer book.mu.Unlock()

	// Snapshot both sides in priority order.
	var bids, asks []*domain.Order
	book.WalkBids(func(e BookEntry) bool {
		bids = append(bids, e.Order)
		return true
	})
	book.WalkAsks(func(e BookEntry) bool {
		asks = append(asks, e.Order)
		return true
	})
	if len(bids) == 0 || len(asks) == 0 {
		return nil, domain.ErrNoCross
	}

	clearing, volume := clearingPrice(bids, asks)
	if volume == 0 {
		return nil, domain.ErrNoCross
	}

	trades := a.allocate(book, pair, bids, asks, clearing)

	var executed int64
	for _, t := range trades {
		executed += t.Quantity
	}

	return &AuctionResult{
		ClearingPrice: clearing,
		Volume:        executed,
		Trades:        trades,
	}, nil
}

// clearingPrice computes the volume-maximizing candidate price. Ties
// resolve to the lowest candidate.
func clearingPrice(bids, asks []*domain.Order) (int64, int64) {
	seen := make(map[int64]bool)
	var candidates []int64
	for _, o := range bids {
		if !seen[o.Price] {
			seen[o.Price] = true
			candidates = append(candidates, o.Price)
		}
	}
	for _, o := range asks {
		if !seen[o.Price] {
			seen[o.Price] = true
			candidates = append(candidates, o.Price)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	var bestPrice, bestVolume int64
	for _, p := range candidates {
		var bidVol, askVol int64
		for _, o := range bids {
			if o.Price >= p {
				bidVol += o.RemainingQuantity
			}
		}
		for _, o := range asks {
			if o.Price <= p {
				askVol += o.RemainingQuantity
			}
		}
		vol := bidVol
		if askVol < vol {
			vol = askVol
		}
		// Strictly greater keeps the lowest price on ties.
		if vol > bestVolume {
			bestVolume = vol
			bestPrice = p
		}
	}
	return bestPrice, bestVolume
}

// allocate pairs eligible bids and asks at the clearing price. The
// earlier-submitted order of each pair is the maker for fee purposes.
// Same-owner pairings are skipped; the later bid keeps scanning for a
// different counterparty.
func (a *Auctioneer) allocate(book *Book, pair *domain.TradingPair, bids, asks []*domain.Order, clearing int64) []*domain.Trade {
	var trades []*domain.Trade

	for _, bid := range bids {
		if bid.Price < clearing {
			break // bids are in price-descending order
		}
		for bid.RemainingQuantity > 0 {
			ask := pickAsk(asks, clearing, bid.Owner)
			if ask == nil {
				break
			}

			qty := bid.RemainingQuantity
			if ask.RemainingQuantity < qty {
				qty = ask.RemainingQuantity
			}

			maker, taker := bid, ask
			takerSide := domain.SideSell
			if bid.CreatedAt.After(ask.CreatedAt) {
				maker, taker = ask, bid
				takerSide = domain.SideBuy
			}

			notional := clearing * qty
			makerFee := a.matcher.fees.Fee(notional, pair.MakerFeeRate)
			takerFee := a.matcher.fees.Fee(notional, pair.TakerFeeRate)

			now := time.Now()
			trade := &domain.Trade{
				ID:           uuid.New().String(),
				Symbol:       book.Symbol(),
				MakerOrderID: maker.ID,
				TakerOrderID: taker.ID,
				MakerOwner:   maker.Owner,
				TakerOwner:   taker.Owner,
				TakerSide:    takerSide,
				Quantity:     qty,
				Price:        clearing,
				Notional:     notional,
				MakerFee:     makerFee,
				TakerFee:     takerFee,
				Status:       domain.TradeStatusPending,
				MatchedAt:    now,
			}

			_ = bid.ApplyFill(domain.Fill{
				Quantity: qty, Price: clearing, Fee: feeFor(bid, maker, makerFee, takerFee),
				TradeID: trade.ID, Timestamp: now,
			})
			_ = ask.ApplyFill(domain.Fill{
				Quantity: qty, Price: clearing, Fee: feeFor(ask, maker, makerFee, takerFee),
				TradeID: trade.ID, Timestamp: now,
			})

			a.matcher.trades.Record(trade)
			trades = append(trades, trade)

			if ask.RemainingQuantity == 0 {
				book.Remove(ask.ID)
			}
		}
		if bid.RemainingQuantity == 0 {
			book.Remove(bid.ID)
		}
	}

	return trades
}

// pickAsk returns the highest-priority eligible ask not owned by owner,
// or nil. Asks skipped for self-trade prevention stay available for
// other bids.
func pickAsk(asks []*domain.Order, clearing int64, owner string) *domain.Order {
	for _, ask := range asks {
		if ask.Price > clearing {
			break // asks are in price-ascending order
		}
		if ask.RemainingQuantity == 0 || ask.Owner == owner {
			continue
		}
		return ask
	}
	return nil
}

func feeFor(o, maker *domain.Order, makerFee, takerFee int64) int64 {
	if o == maker {
		return makerFee
	}
	return takerFee
}

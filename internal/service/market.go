package service

import (
	"time"

	"github.com/openclear/tradecore/internal/domain"
	"github.com/openclear/tradecore/internal/engine"
	"github.com/openclear/tradecore/internal/ledger"
)

// BookSnapshot is a point-in-time view of one symbol's order book.
type BookSnapshot struct {
	Symbol     string         `json:"symbol"`
	Bids       []engine.Level `json:"bids"`
	Asks       []engine.Level `json:"asks"`
	Spread     *int64         `json:"spread,omitempty"` // cents, absent when one side is empty
	Crossed    bool           `json:"crossed"`
	SnapshotAt time.Time      `json:"snapshot_at"`
}

// MarketService answers read-only market data queries: book depth,
// trade history, and the OHLCV, VWAP and TWAP aggregates.
type MarketService struct {
	books      *engine.BookManager
	trades     *ledger.Ledger
	pairs      *domain.PairRegistry
	vwapWindow time.Duration
}

// NewMarketService creates a MarketService. vwapWindow is the lookback
// used when a price query gives no explicit window.
func NewMarketService(books *engine.BookManager, trades *ledger.Ledger, pairs *domain.PairRegistry, vwapWindow time.Duration) *MarketService {
	return &MarketService{books: books, trades: trades, pairs: pairs, vwapWindow: vwapWindow}
}

// Book returns the top depth levels on both sides of the symbol's book.
func (s *MarketService) Book(symbol string, depth int) (*BookSnapshot, error) {
	if _, err := s.pairs.Get(symbol); err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 10
	}
	book := s.books.GetOrCreate(symbol)
	book.RLock()
	defer book.RUnlock()

	snap := &BookSnapshot{
		Symbol:     symbol,
		Bids:       book.TopBids(depth),
		Asks:       book.TopAsks(depth),
		Crossed:    book.Crossed(),
		SnapshotAt: time.Now(),
	}
	if bid, ok := book.BestBid(); ok {
		if ask, ok := book.BestAsk(); ok {
			spread := ask.Price - bid.Price
			snap.Spread = &spread
		}
	}
	return snap, nil
}

// Price returns a reference price for the symbol: the VWAP over the
// configured window, falling back to the last traded price when the
// window is empty.
func (s *MarketService) Price(symbol string) (int64, error) {
	if _, err := s.pairs.Get(symbol); err != nil {
		return 0, err
	}
	now := time.Now()
	if vwap, ok := s.trades.VWAP(symbol, now.Add(-s.vwapWindow), now); ok {
		return vwap, nil
	}
	if last, ok := s.trades.LastPrice(symbol); ok {
		return last, nil
	}
	return 0, domain.ErrNoLiquidity
}

// Trades returns the symbol's trades within [from, to), newest last.
func (s *MarketService) Trades(symbol string, from, to time.Time) ([]*domain.Trade, error) {
	if _, err := s.pairs.Get(symbol); err != nil {
		return nil, err
	}
	return s.trades.Window(symbol, from, to), nil
}

// TradesByUser returns every trade the user participated in, as maker
// or taker.
func (s *MarketService) TradesByUser(user string) []*domain.Trade {
	return s.trades.ByUser(user)
}

// Trade returns a single trade by ID.
func (s *MarketService) Trade(id string) (*domain.Trade, error) {
	return s.trades.Get(id)
}

// OHLCV returns candles of the given width over [from, to).
func (s *MarketService) OHLCV(symbol string, width time.Duration, from, to time.Time) ([]ledger.Candle, error) {
	if _, err := s.pairs.Get(symbol); err != nil {
		return nil, err
	}
	if width <= 0 {
		width = time.Minute
	}
	return s.trades.OHLCV(symbol, width, from, to), nil
}

// VWAP returns the volume-weighted average price over [from, to).
func (s *MarketService) VWAP(symbol string, from, to time.Time) (int64, error) {
	if _, err := s.pairs.Get(symbol); err != nil {
		return 0, err
	}
	v, ok := s.trades.VWAP(symbol, from, to)
	if !ok {
		return 0, domain.ErrNoLiquidity
	}
	return v, nil
}

// TWAP returns the time-weighted average price over [from, to).
func (s *MarketService) TWAP(symbol string, from, to time.Time) (int64, error) {
	if _, err := s.pairs.Get(symbol); err != nil {
		return 0, err
	}
	v, ok := s.trades.TWAP(symbol, from, to)
	if !ok {
		return 0, domain.ErrNoLiquidity
	}
	return v, nil
}

// Pairs lists the registered trading pairs.
func (s *MarketService) Pairs() []string {
	return s.pairs.Symbols()
}

// Pair returns one trading pair's definition.
func (s *MarketService) Pair(symbol string) (*domain.TradingPair, error) {
	return s.pairs.Get(symbol)
}

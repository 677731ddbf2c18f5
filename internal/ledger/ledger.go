// Package ledger holds the append-only trade record and its derived
// views (OHLCV, VWAP, TWAP). A recorded trade is never mutated except
// for status and settled_at, which advance as settlement progresses.
package ledger

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/openclear/tradecore/internal/domain"
)

// Ledger is a thread-safe in-memory trade ledger with primary index by
// trade ID and secondary indexes by symbol and user. An optional Archive
// mirrors every write to sqlite; archive failures never reach the match
// path.
type Ledger struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Trade
	bySymbol map[string][]*domain.Trade // chronological
	byUser   map[string][]*domain.Trade
	archive  *Archive
}

// New creates an empty Ledger. archive may be nil.
func New(archive *Archive) *Ledger {
	return &Ledger{
		byID:     make(map[string]*domain.Trade),
		bySymbol: make(map[string][]*domain.Trade),
		byUser:   make(map[string][]*domain.Trade),
		archive:  archive,
	}
}

// Record appends a trade. Both maker and taker owners are indexed.
func (l *Ledger) Record(t *domain.Trade) {
	l.mu.Lock()
	l.byID[t.ID] = t
	l.bySymbol[t.Symbol] = append(l.bySymbol[t.Symbol], t)
	l.byUser[t.MakerOwner] = append(l.byUser[t.MakerOwner], t)
	l.byUser[t.TakerOwner] = append(l.byUser[t.TakerOwner], t)
	l.mu.Unlock()

	if l.archive != nil {
		l.archive.Enqueue(t)
	}
}

// Get returns a trade by ID, or domain.ErrTradeNotFound.
func (l *Ledger) Get(id string) (*domain.Trade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.byID[id]
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	return t, nil
}

// SetStatus advances a trade's settlement status. Terminal trade
// statuses are final; any further change is a state conflict.
func (l *Ledger) SetStatus(id string, status domain.TradeStatus, at time.Time) error {
	l.mu.Lock()
	t, ok := l.byID[id]
	if !ok {
		l.mu.Unlock()
		return domain.ErrTradeNotFound
	}
	if t.Status != domain.TradeStatusPending {
		l.mu.Unlock()
		return domain.ErrStateConflict
	}
	t.Status = status
	if status == domain.TradeStatusSettled {
		t.SettledAt = &at
	}
	l.mu.Unlock()

	if l.archive != nil {
		l.archive.Enqueue(t)
	}
	return nil
}

// BySymbol returns all trades for a symbol in chronological order.
func (l *Ledger) BySymbol(symbol string) []*domain.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyTrades(l.bySymbol[symbol])
}

// ByUser returns all trades involving a user, as maker or taker.
func (l *Ledger) ByUser(user string) []*domain.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyTrades(l.byUser[user])
}

// Window returns trades for a symbol with from ≤ matched_at < to.
func (l *Ledger) Window(symbol string, from, to time.Time) []*domain.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*domain.Trade
	for _, t := range l.bySymbol[symbol] {
		if t.MatchedAt.Before(from) || !t.MatchedAt.Before(to) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// LastPrice returns the most recent trade price for a symbol.
func (l *Ledger) LastPrice(symbol string) (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	trades := l.bySymbol[symbol]
	if len(trades) == 0 {
		return 0, false
	}
	return trades[len(trades)-1].Price, true
}

func copyTrades(in []*domain.Trade) []*domain.Trade {
	out := make([]*domain.Trade, len(in))
	copy(out, in)
	return out
}

// Candle is one OHLCV bucket over a trade stream.
type Candle struct {
	Start  time.Time
	Open   int64
	High   int64
	Low    int64
	Close  int64
	Volume int64
	Trades int
}

// OHLCV buckets trades for a symbol into candles of the given width.
// Open is the first trade price in the bucket, close the last, high/low
// the extrema, volume the summed quantity. Buckets with no trades are
// omitted. Bucket boundaries are aligned by truncating matched_at to the
// width.
func (l *Ledger) OHLCV(symbol string, width time.Duration, from, to time.Time) []Candle {
	if width <= 0 {
		return nil
	}
	trades := l.Window(symbol, from, to)
	if len(trades) == 0 {
		return nil
	}

	buckets := make(map[time.Time]*Candle)
	for _, t := range trades {
		start := t.MatchedAt.Truncate(width)
		c, ok := buckets[start]
		if !ok {
			buckets[start] = &Candle{
				Start:  start,
				Open:   t.Price,
				High:   t.Price,
				Low:    t.Price,
				Close:  t.Price,
				Volume: t.Quantity,
				Trades: 1,
			}
			continue
		}
		if t.Price > c.High {
			c.High = t.Price
		}
		if t.Price < c.Low {
			c.Low = t.Price
		}
		c.Close = t.Price
		c.Volume += t.Quantity
		c.Trades++
	}

	out := make([]Candle, 0, len(buckets))
	for _, c := range buckets {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// VWAP returns the volume-weighted average price over [from, to):
// sum(price × quantity) / sum(quantity). Returns (0, false) when no
// trades fall in the window.
func (l *Ledger) VWAP(symbol string, from, to time.Time) (int64, bool) {
	trades := l.Window(symbol, from, to)
	var sumPriceQty, sumQty int64
	for _, t := range trades {
		sumPriceQty += t.Price * t.Quantity
		sumQty += t.Quantity
	}
	if sumQty == 0 {
		return 0, false
	}
	return sumPriceQty / sumQty, true
}

// TWAP returns the time-weighted average price over [from, to). The
// price series is the trade prices with last observation carried forward
// between trades; the price in effect at the window start is the last
// trade at or before it. Returns (0, false) when no price is observable
// in the window.
func (l *Ledger) TWAP(symbol string, from, to time.Time) (int64, bool) {
	if !to.After(from) {
		return 0, false
	}

	l.mu.RLock()
	all := l.bySymbol[symbol]
	// Price in effect at the window start.
	var startPrice int64
	var haveStart bool
	var inWindow []*domain.Trade
	for _, t := range all {
		if !t.MatchedAt.After(from) {
			startPrice = t.Price
			haveStart = true
			continue
		}
		if t.MatchedAt.Before(to) {
			inWindow = append(inWindow, t)
		}
	}
	l.mu.RUnlock()

	if !haveStart && len(inWindow) == 0 {
		return 0, false
	}

	// Weight each carried-forward price by the duration it was in effect.
	var weighted float64
	var total float64
	cursor := from
	price := startPrice
	have := haveStart
	for _, t := range inWindow {
		if have {
			d := t.MatchedAt.Sub(cursor).Seconds()
			weighted += float64(price) * d
			total += d
		}
		cursor = t.MatchedAt
		price = t.Price
		have = true
	}
	d := to.Sub(cursor).Seconds()
	weighted += float64(price) * d
	total += d

	if total <= 0 {
		return price, true
	}
	return int64(math.Round(weighted / total)), true
}

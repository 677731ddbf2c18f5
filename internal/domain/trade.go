package domain

import "time"

// TradeStatus represents the settlement state of a trade.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusSettled   TradeStatus = "settled"
	TradeStatusFailed    TradeStatus = "failed"
	TradeStatusCancelled TradeStatus = "cancelled"
)

// Valid reports whether s is a known trade status.
func (s TradeStatus) Valid() bool {
	switch s {
	case TradeStatusPending, TradeStatusSettled, TradeStatusFailed, TradeStatusCancelled:
		return true
	}
	return false
}

// Trade represents a matched execution between a resting (maker) order and
// an incoming (taker) order. Execution price is always the maker's resting
// price. A trade is immutable after creation except for Status and
// SettledAt, which advance as settlement progresses.
//
// Invariant: MakerOwner != TakerOwner — self-trades are prevented by the
// matching engine, never recorded after the fact.
type Trade struct {
	ID           string
	Symbol       string
	MakerOrderID string
	TakerOrderID string
	MakerOwner   string
	TakerOwner   string
	TakerSide    Side  // side of the incoming order
	Quantity     int64
	Price        int64 // cents; the maker's resting price
	Notional     int64 // cents; Quantity × Price
	MakerFee     int64 // cents
	TakerFee     int64 // cents
	Status       TradeStatus
	MatchedAt    time.Time
	SettledAt    *time.Time
}

// Buyer returns the owner on the buy side of the trade.
func (t *Trade) Buyer() string {
	if t.TakerSide == SideBuy {
		return t.TakerOwner
	}
	return t.MakerOwner
}

// Seller returns the owner on the sell side of the trade.
func (t *Trade) Seller() string {
	if t.TakerSide == SideSell {
		return t.TakerOwner
	}
	return t.MakerOwner
}

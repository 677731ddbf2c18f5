package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType distinguishes the execution semantics of an order.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStopLoss     OrderType = "stop_loss"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTakeProfit   OrderType = "take_profit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopLoss,
		OrderTypeStopLimit, OrderTypeTakeProfit, OrderTypeTrailingStop:
		return true
	}
	return false
}

// IsStop reports whether the order type rests in the stop index until a
// trigger price is crossed rather than entering the book directly.
func (t OrderType) IsStop() bool {
	switch t {
	case OrderTypeStopLoss, OrderTypeStopLimit, OrderTypeTakeProfit, OrderTypeTrailingStop:
		return true
	}
	return false
}

// Side indicates whether an order buys or sells the base asset.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TimeInForce controls how long an order remains eligible for matching.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // rest until cancelled
	TimeInForceIOC TimeInForce = "IOC" // fill what crosses, cancel the rest
	TimeInForceFOK TimeInForce = "FOK" // fill completely or not at all
	TimeInForceDay TimeInForce = "DAY" // rest until end of trading day
)

// Valid reports whether t is a known time-in-force.
func (t TimeInForce) Valid() bool {
	switch t {
	case TimeInForceGTC, TimeInForceIOC, TimeInForceFOK, TimeInForceDay:
		return true
	}
	return false
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// Cancellable reports whether an order in this status may still be
// cancelled by its owner.
func (s OrderStatus) Cancellable() bool {
	switch s {
	case OrderStatusPending, OrderStatusOpen, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// Fill records a single execution against an order. Fills are immutable
// once appended.
type Fill struct {
	Quantity  int64
	Price     int64 // cents
	Fee       int64 // cents
	TradeID   string
	Timestamp time.Time
}

// Order represents a buy or sell instruction submitted by a user. It is
// owned by the order store and mutated only under the per-symbol book lock.
//
// Invariant: FilledQuantity + RemainingQuantity == Quantity at every point
// observable outside the book lock.
type Order struct {
	ID                string
	Owner             string
	Symbol            string
	Side              Side
	Type              OrderType
	TimeInForce       TimeInForce
	Quantity          int64
	FilledQuantity    int64
	RemainingQuantity int64
	Price             int64 // cents; limit price, 0 for market orders
	StopPrice         int64 // cents; trigger price for stop types
	LimitPrice        int64 // cents; post-trigger limit for stop_limit
	TrailingOffset    int64 // cents; trailing distance for trailing_stop
	Status            OrderStatus
	Fills             []Fill
	FeesEstimated     int64 // cents
	FeesActual        int64 // cents
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CancelReason      string
}

// Clone returns a deep copy of the order. Fills and ExpiresAt are
// copied so the result is independent of later mutation.
func (o *Order) Clone() *Order {
	c := *o
	if len(o.Fills) > 0 {
		c.Fills = make([]Fill, len(o.Fills))
		copy(c.Fills, o.Fills)
	}
	if o.ExpiresAt != nil {
		exp := *o.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}

// ApplyFill appends a fill and recomputes the quantity counters, accrued
// fees, and status. The caller must hold the symbol's book lock. Returns an
// error if the fill would drive RemainingQuantity negative.
func (o *Order) ApplyFill(f Fill) error {
	if f.Quantity <= 0 {
		return fmt.Errorf("fill quantity must be positive, got %d", f.Quantity)
	}
	if f.Quantity > o.RemainingQuantity {
		return fmt.Errorf("fill quantity %d exceeds remaining %d on order %s",
			f.Quantity, o.RemainingQuantity, o.ID)
	}
	o.Fills = append(o.Fills, f)
	o.FilledQuantity += f.Quantity
	o.RemainingQuantity -= f.Quantity
	o.FeesActual += f.Fee
	if o.RemainingQuantity == 0 {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	o.UpdatedAt = f.Timestamp
	return nil
}

// AveragePrice computes the volume-weighted average execution price in
// cents as sum(fill.price × fill.quantity) / filled_quantity. The
// result carries sub-cent precision: a buy of 8 filled 5@1000 + 3@1100
// averages 1037.5, not 1037. Returns (price, true) when fills exist,
// or (zero, false) when nothing has executed.
func (o *Order) AveragePrice() (decimal.Decimal, bool) {
	if len(o.Fills) == 0 || o.FilledQuantity == 0 {
		return decimal.Zero, false
	}
	var total int64
	for _, f := range o.Fills {
		total += f.Price * f.Quantity
	}
	return decimal.NewFromInt(total).Div(decimal.NewFromInt(o.FilledQuantity)), true
}

// Resting reports whether the order currently rests on the book.
func (o *Order) Resting() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartiallyFilled
}

package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestApplyFill_PartialThenFull(t *testing.T) {
	o := &Order{
		ID:                "o1",
		Quantity:          10,
		RemainingQuantity: 10,
		Status:            OrderStatusOpen,
	}

	err := o.ApplyFill(Fill{Quantity: 4, Price: 1000, Fee: 8, TradeID: "t1", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != OrderStatusPartiallyFilled {
		t.Errorf("expected partially_filled, got %s", o.Status)
	}
	if o.FilledQuantity != 4 || o.RemainingQuantity != 6 {
		t.Errorf("expected filled=4 remaining=6, got %d/%d", o.FilledQuantity, o.RemainingQuantity)
	}
	if o.FeesActual != 8 {
		t.Errorf("expected fees 8, got %d", o.FeesActual)
	}

	err = o.ApplyFill(Fill{Quantity: 6, Price: 1100, Fee: 13, TradeID: "t2", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != OrderStatusFilled {
		t.Errorf("expected filled, got %s", o.Status)
	}
	if o.FilledQuantity+o.RemainingQuantity != o.Quantity {
		t.Errorf("filled+remaining != quantity: %d+%d != %d", o.FilledQuantity, o.RemainingQuantity, o.Quantity)
	}
	if o.FeesActual != 21 {
		t.Errorf("expected fees 21, got %d", o.FeesActual)
	}
}

func TestApplyFill_Overfill(t *testing.T) {
	o := &Order{ID: "o1", Quantity: 5, RemainingQuantity: 5, Status: OrderStatusOpen}
	if err := o.ApplyFill(Fill{Quantity: 6, Price: 1000}); err == nil {
		t.Fatal("expected error for overfill")
	}
	if o.FilledQuantity != 0 || o.RemainingQuantity != 5 {
		t.Errorf("overfill must not mutate counters, got %d/%d", o.FilledQuantity, o.RemainingQuantity)
	}
}

func TestApplyFill_NonPositiveQuantity(t *testing.T) {
	o := &Order{ID: "o1", Quantity: 5, RemainingQuantity: 5}
	if err := o.ApplyFill(Fill{Quantity: 0, Price: 1000}); err == nil {
		t.Fatal("expected error for zero quantity fill")
	}
}

func TestAveragePrice(t *testing.T) {
	o := &Order{ID: "o1", Quantity: 8, RemainingQuantity: 8, Status: OrderStatusOpen}
	_ = o.ApplyFill(Fill{Quantity: 5, Price: 1000})
	_ = o.ApplyFill(Fill{Quantity: 3, Price: 1100})

	avg, ok := o.AveragePrice()
	if !ok {
		t.Fatal("expected average price")
	}
	// (5×1000 + 3×1100) / 8 = 8300/8 = 1037.5 cents
	if !avg.Equal(decimal.NewFromFloat(1037.5)) {
		t.Errorf("expected avg 1037.5, got %s", avg)
	}
}

func TestAveragePrice_NoFills(t *testing.T) {
	o := &Order{ID: "o1", Quantity: 8, RemainingQuantity: 8}
	if _, ok := o.AveragePrice(); ok {
		t.Error("expected no average price for unfilled order")
	}
}

func TestClone_IndependentOfOriginal(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	orig := exp
	o := &Order{ID: "o1", Quantity: 8, RemainingQuantity: 8, Status: OrderStatusOpen, ExpiresAt: &exp}
	_ = o.ApplyFill(Fill{Quantity: 3, Price: 1000})

	c := o.Clone()
	_ = o.ApplyFill(Fill{Quantity: 5, Price: 1100})
	*o.ExpiresAt = o.ExpiresAt.Add(time.Hour)

	if len(c.Fills) != 1 || c.RemainingQuantity != 5 || c.Status != OrderStatusPartiallyFilled {
		t.Errorf("clone mutated by later fills: %+v", c)
	}
	if !c.ExpiresAt.Equal(orig) {
		t.Errorf("clone expiry mutated: %s", c.ExpiresAt)
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired, OrderStatusRejected}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	open := []OrderStatus{OrderStatusPending, OrderStatusOpen, OrderStatusPartiallyFilled}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}

func TestOrderStatus_Cancellable(t *testing.T) {
	if !OrderStatusPartiallyFilled.Cancellable() {
		t.Error("partially filled orders must be cancellable")
	}
	if OrderStatusFilled.Cancellable() {
		t.Error("filled orders must not be cancellable")
	}
	if OrderStatusExpired.Cancellable() {
		t.Error("expired orders must not be cancellable")
	}
}

func TestOrderType_IsStop(t *testing.T) {
	stops := []OrderType{OrderTypeStopLoss, OrderTypeStopLimit, OrderTypeTakeProfit, OrderTypeTrailingStop}
	for _, ot := range stops {
		if !ot.IsStop() {
			t.Errorf("expected %s to be a stop type", ot)
		}
	}
	if OrderTypeMarket.IsStop() || OrderTypeLimit.IsStop() {
		t.Error("market/limit must not be stop types")
	}
}

func TestSide_Opposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell {
		t.Error("buy opposite must be sell")
	}
	if SideSell.Opposite() != SideBuy {
		t.Error("sell opposite must be buy")
	}
}

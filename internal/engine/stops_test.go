package engine

import (
	"testing"
	"time"

	"github.com/openclear/tradecore/internal/domain"
)

func stopOrder(id string, side domain.Side, typ domain.OrderType, stopPrice int64) *domain.Order {
	return &domain.Order{
		ID:                id,
		Owner:             "alice",
		Symbol:            "AAPL",
		Side:              side,
		Type:              typ,
		Quantity:          5,
		RemainingQuantity: 5,
		StopPrice:         stopPrice,
		Status:            domain.OrderStatusOpen,
		CreatedAt:         time.Now(),
	}
}

func TestStopIndex_SellStopLoss_FiresOnFall(t *testing.T) {
	s := NewStopIndex()
	s.Add(stopOrder("s1", domain.SideSell, domain.OrderTypeStopLoss, 1000))

	if fired := s.OnPrice("AAPL", 1050); len(fired) != 0 {
		t.Errorf("price above stop must not fire, got %d", len(fired))
	}
	fired := s.OnPrice("AAPL", 1000)
	if len(fired) != 1 || fired[0].ID != "s1" {
		t.Fatalf("expected s1 to fire at the stop, got %+v", fired)
	}
	if s.Count("AAPL") != 0 {
		t.Error("fired orders must leave the index")
	}
	// Firing is one-shot.
	if fired := s.OnPrice("AAPL", 900); len(fired) != 0 {
		t.Error("already-fired order must not fire again")
	}
}

func TestStopIndex_BuyStopLoss_FiresOnRise(t *testing.T) {
	s := NewStopIndex()
	s.Add(stopOrder("s1", domain.SideBuy, domain.OrderTypeStopLoss, 1100))

	if fired := s.OnPrice("AAPL", 1050); len(fired) != 0 {
		t.Errorf("price below buy stop must not fire, got %d", len(fired))
	}
	if fired := s.OnPrice("AAPL", 1100); len(fired) != 1 {
		t.Errorf("expected fire at the stop, got %d", len(fired))
	}
}

func TestStopIndex_TakeProfit_InvertsDirection(t *testing.T) {
	s := NewStopIndex()
	// A sell take-profit locks in gains as the price rises.
	s.Add(stopOrder("tp-sell", domain.SideSell, domain.OrderTypeTakeProfit, 1200))
	// A buy take-profit buys back as the price falls.
	s.Add(stopOrder("tp-buy", domain.SideBuy, domain.OrderTypeTakeProfit, 900))

	if fired := s.OnPrice("AAPL", 1000); len(fired) != 0 {
		t.Errorf("mid price must fire nothing, got %d", len(fired))
	}
	fired := s.OnPrice("AAPL", 1200)
	if len(fired) != 1 || fired[0].ID != "tp-sell" {
		t.Errorf("expected tp-sell at 1200, got %+v", fired)
	}
	fired = s.OnPrice("AAPL", 900)
	if len(fired) != 1 || fired[0].ID != "tp-buy" {
		t.Errorf("expected tp-buy at 900, got %+v", fired)
	}
}

func TestStopIndex_MultipleFireInOneTick(t *testing.T) {
	s := NewStopIndex()
	s.Add(stopOrder("s1", domain.SideSell, domain.OrderTypeStopLoss, 1000))
	s.Add(stopOrder("s2", domain.SideSell, domain.OrderTypeStopLoss, 1050))
	s.Add(stopOrder("s3", domain.SideSell, domain.OrderTypeStopLoss, 900))

	fired := s.OnPrice("AAPL", 950)
	if len(fired) != 2 {
		t.Fatalf("expected 2 fired (stops at 1000 and 1050), got %d", len(fired))
	}
	if s.Count("AAPL") != 1 {
		t.Errorf("stop at 900 must remain parked, count %d", s.Count("AAPL"))
	}
}

func TestStopIndex_Remove(t *testing.T) {
	s := NewStopIndex()
	s.Add(stopOrder("s1", domain.SideSell, domain.OrderTypeStopLoss, 1000))

	o, ok := s.Remove("s1")
	if !ok || o.ID != "s1" {
		t.Fatal("expected removal to return the parked order")
	}
	if _, ok := s.Remove("s1"); ok {
		t.Error("double removal must miss")
	}
	if fired := s.OnPrice("AAPL", 900); len(fired) != 0 {
		t.Error("removed order must not fire")
	}
}

func TestStopIndex_TrailingSell_Ratchets(t *testing.T) {
	s := NewStopIndex()
	o := stopOrder("tr1", domain.SideSell, domain.OrderTypeTrailingStop, 0)
	o.StopPrice = 950
	o.TrailingOffset = 50
	s.Add(o)

	// Rising prices drag the stop upward.
	if fired := s.OnPrice("AAPL", 1100); len(fired) != 0 {
		t.Fatalf("rising price must not fire, got %d", len(fired))
	}
	if o.StopPrice != 1050 {
		t.Errorf("expected stop ratcheted to 1050, got %d", o.StopPrice)
	}

	// A pullback that stays above the stop does not fire and never
	// lowers the stop.
	if fired := s.OnPrice("AAPL", 1080); len(fired) != 0 {
		t.Fatal("price above stop must not fire")
	}
	if o.StopPrice != 1050 {
		t.Errorf("stop must never ratchet down, got %d", o.StopPrice)
	}

	// Falling through the stop fires.
	fired := s.OnPrice("AAPL", 1040)
	if len(fired) != 1 || fired[0].ID != "tr1" {
		t.Fatalf("expected trailing stop to fire, got %+v", fired)
	}
	if s.Count("AAPL") != 0 {
		t.Error("fired trailing stop must leave the index")
	}
}

func TestStopIndex_TrailingBuy_InitializesFromFirstTick(t *testing.T) {
	s := NewStopIndex()
	o := stopOrder("tr1", domain.SideBuy, domain.OrderTypeTrailingStop, 0)
	o.TrailingOffset = 50
	s.Add(o)

	// First tick seeds the stop at price + offset.
	if fired := s.OnPrice("AAPL", 1000); len(fired) != 0 {
		t.Fatal("seeding tick must not fire")
	}
	if o.StopPrice != 1050 {
		t.Errorf("expected stop seeded at 1050, got %d", o.StopPrice)
	}

	// Falling prices drag the stop downward.
	if fired := s.OnPrice("AAPL", 900); len(fired) != 0 {
		t.Fatal("falling price must not fire a buy trail")
	}
	if o.StopPrice != 950 {
		t.Errorf("expected stop ratcheted to 950, got %d", o.StopPrice)
	}

	// Rebounding through the stop fires.
	if fired := s.OnPrice("AAPL", 960); len(fired) != 1 {
		t.Fatal("expected rebound to fire the buy trail")
	}
}

func TestStopIndex_SymbolIsolation(t *testing.T) {
	s := NewStopIndex()
	s.Add(stopOrder("s1", domain.SideSell, domain.OrderTypeStopLoss, 1000))

	if fired := s.OnPrice("MSFT", 900); len(fired) != 0 {
		t.Error("prices on other symbols must not fire")
	}
	if s.Count("AAPL") != 1 {
		t.Error("AAPL stop must remain parked")
	}
}

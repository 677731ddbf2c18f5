package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func validPair(symbol string) *TradingPair {
	return &TradingPair{
		Symbol:            symbol,
		Status:            PairEnabled,
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

func TestPairRegistry_RegisterAndGet(t *testing.T) {
	r := NewPairRegistry()
	if err := r.Register(validPair("AAPL")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pair, err := r.Get("AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pair.Symbol != "AAPL" {
		t.Errorf("expected AAPL, got %s", pair.Symbol)
	}

	if _, err := r.Get("MSFT"); !errors.Is(err, ErrPairNotFound) {
		t.Errorf("expected ErrPairNotFound, got %v", err)
	}
}

func TestPairRegistry_RejectsMakerFeeAtOrAboveTaker(t *testing.T) {
	r := NewPairRegistry()
	p := validPair("AAPL")
	p.MakerFeeRate = decimal.NewFromFloat(0.002)
	p.TakerFeeRate = decimal.NewFromFloat(0.002)
	if err := r.Register(p); err == nil {
		t.Fatal("expected error when maker fee >= taker fee")
	}
}

func TestPairRegistry_RejectsInvalidBounds(t *testing.T) {
	r := NewPairRegistry()

	p := validPair("AAPL")
	p.TickSize = 0
	if err := r.Register(p); err == nil {
		t.Error("expected error for zero tick size")
	}

	p = validPair("AAPL")
	p.MaxQuantity = 0
	if err := r.Register(p); err == nil {
		t.Error("expected error for max quantity below min")
	}
}

func TestPairRegistry_SetStatus(t *testing.T) {
	r := NewPairRegistry()
	if err := r.Register(validPair("AAPL")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.SetStatus("AAPL", PairHalted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pair, _ := r.Get("AAPL")
	if pair.Status != PairHalted {
		t.Errorf("expected HALTED, got %s", pair.Status)
	}

	if err := r.SetStatus("MSFT", PairHalted); !errors.Is(err, ErrPairNotFound) {
		t.Errorf("expected ErrPairNotFound, got %v", err)
	}
}

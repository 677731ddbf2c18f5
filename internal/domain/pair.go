package domain

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// PairStatus gates order acceptance for a symbol. It is supplied by the
// trading-pair configuration collaborator; the core only reads it.
type PairStatus string

const (
	PairEnabled     PairStatus = "ENABLED"
	PairDisabled    PairStatus = "DISABLED"
	PairMaintenance PairStatus = "MAINTENANCE"
	PairHalted      PairStatus = "HALTED"
)

// TradingPair holds the collaborator-supplied configuration for one
// listed symbol: trading status, price/quantity bounds, tick size, and
// maker/taker fee rates. Read-only from the matching core's perspective.
type TradingPair struct {
	Symbol            string
	Status            PairStatus
	TickSize          int64 // cents
	MinQuantity       int64
	MaxQuantity       int64
	MinPrice          int64 // cents
	MaxPrice          int64 // cents
	MakerFeeRate      decimal.Decimal // fraction of notional, e.g. 0.001
	TakerFeeRate      decimal.Decimal
	MaxPriceDeviation decimal.Decimal // fraction of last traded price, e.g. 0.10
	AssetType         string          // settlement asset descriptor, e.g. "equity"
	QuoteCurrency     string          // settlement payment currency, e.g. "USD"
	CustodialAsset    bool            // settlement requires custodian confirmation
}

// PairRegistry tracks listed trading pairs in a thread-safe manner.
type PairRegistry struct {
	mu    sync.RWMutex
	pairs map[string]*TradingPair
}

// NewPairRegistry creates an empty PairRegistry.
func NewPairRegistry() *PairRegistry {
	return &PairRegistry{
		pairs: make(map[string]*TradingPair),
	}
}

// Register adds or replaces a pair. The maker rate must be strictly below
// the taker rate — the spread funds passive liquidity.
func (r *PairRegistry) Register(p *TradingPair) error {
	if p.Symbol == "" {
		return fmt.Errorf("pair symbol must not be empty")
	}
	if p.TickSize <= 0 {
		return fmt.Errorf("pair %s: tick size must be positive", p.Symbol)
	}
	if p.MinQuantity <= 0 || p.MaxQuantity < p.MinQuantity {
		return fmt.Errorf("pair %s: invalid quantity bounds [%d, %d]", p.Symbol, p.MinQuantity, p.MaxQuantity)
	}
	if p.MakerFeeRate.GreaterThanOrEqual(p.TakerFeeRate) {
		return fmt.Errorf("pair %s: maker rate %s must be below taker rate %s",
			p.Symbol, p.MakerFeeRate, p.TakerFeeRate)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs[p.Symbol] = p
	return nil
}

// Get returns the pair for a symbol, or ErrPairNotFound.
func (r *PairRegistry) Get(symbol string) (*TradingPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[symbol]
	if !ok {
		return nil, ErrPairNotFound
	}
	return p, nil
}

// SetStatus updates the trading status of a symbol.
func (r *PairRegistry) SetStatus(symbol string, status PairStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[symbol]
	if !ok {
		return ErrPairNotFound
	}
	p.Status = status
	return nil
}

// Symbols returns all registered symbols.
func (r *PairRegistry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pairs))
	for s := range r.pairs {
		out = append(out, s)
	}
	return out
}

// ComplianceGate is the KYC/compliance screening collaborator. The core
// consults it on order acceptance and treats the answer as authoritative.
type ComplianceGate interface {
	// Approve reports whether the owner may trade the symbol, with a
	// human-readable reason when rejected.
	Approve(owner, symbol string) (bool, string)
}

// AllowAll is a ComplianceGate that approves everything. Used when no
// compliance collaborator is wired in.
type AllowAll struct{}

// Approve always returns true.
func (AllowAll) Approve(string, string) (bool, string) { return true, "" }

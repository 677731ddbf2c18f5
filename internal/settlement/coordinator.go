// Package settlement carries trades through the multi-day settlement
// lifecycle: instruction creation, multi-party confirmation, scheduled
// execution, and netting.
package settlement

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openclear/tradecore/internal/domain"
	"github.com/openclear/tradecore/internal/events"
	"github.com/openclear/tradecore/internal/ledger"
	"github.com/openclear/tradecore/internal/store"
)

// Executor performs the external funds/asset transfer for an
// instruction. Implementations must be idempotent per instruction ID:
// a retried Execute after a timeout or partial failure must not
// double-transfer. The returned reference identifies the transfer in
// the external system.
type Executor interface {
	Execute(ctx context.Context, si *domain.SettlementInstruction) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, si *domain.SettlementInstruction) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, si *domain.SettlementInstruction) (string, error) {
	return f(ctx, si)
}

// SweepResult reports one settlement sweep.
type SweepResult struct {
	Processed int // transitioned to SETTLED
	Failed    int // transitioned to FAILED
	Total     int // instructions eligible this sweep
}

// NetPosition is one user's netted obligations for a settlement date:
// net cash received minus paid, and net asset quantity per symbol.
type NetPosition struct {
	User    string
	NetCash int64            // cents; positive = receives
	Assets  map[string]int64 // symbol → net quantity; positive = receives
}

// Coordinator owns the settlement lifecycle. Status mutations happen
// under the per-instruction lock, so a confirmation and the time-driven
// sweep never interleave on the same instruction.
type Coordinator struct {
	store     *store.SettlementStore
	trades    *ledger.Ledger
	pairs     *domain.PairRegistry
	executor  Executor
	bus       *events.Bus
	custodian string // actor ID allowed to confirm the custodian role
}

// NewCoordinator creates a Coordinator. custodianID is the only actor
// allowed to confirm the custodian party.
func NewCoordinator(
	st *store.SettlementStore,
	trades *ledger.Ledger,
	pairs *domain.PairRegistry,
	executor Executor,
	bus *events.Bus,
	custodianID string,
) *Coordinator {
	return &Coordinator{
		store:     st,
		trades:    trades,
		pairs:     pairs,
		executor:  executor,
		bus:       bus,
		custodian: custodianID,
	}
}

// Create builds the settlement instruction for a trade. The settlement
// date is the trade date advanced by the cycle's business days,
// weekends skipped one day at a time. Instructions are 1:1 with trades.
func (c *Coordinator) Create(trade *domain.Trade, cycle domain.SettlementCycle) (*domain.SettlementInstruction, error) {
	if !cycle.Valid() {
		return nil, &domain.ValidationError{Message: "settlement cycle must be T0 through T3"}
	}
	pair, err := c.pairs.Get(trade.Symbol)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	si := &domain.SettlementInstruction{
		ID:      uuid.New().String(),
		TradeID: trade.ID,
		Buyer:   trade.Buyer(),
		Seller:  trade.Seller(),
		Asset: domain.AssetLeg{
			Type:     pair.AssetType,
			Symbol:   trade.Symbol,
			Quantity: trade.Quantity,
		},
		Payment: domain.PaymentLeg{
			Amount:   trade.Notional,
			Currency: pair.QuoteCurrency,
		},
		Cycle:             cycle,
		TradeDate:         trade.MatchedAt,
		SettlementDate:    AddBusinessDays(trade.MatchedAt, int(cycle)),
		Status:            domain.SettlementPending,
		CustodianRequired: pair.CustodialAsset,
		Fees:              trade.MakerFee + trade.TakerFee,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	si.StatusHistory = append(si.StatusHistory, domain.StatusChange{
		To: domain.SettlementPending, At: now, Reason: "created",
	})

	if err := c.store.Create(si); err != nil {
		return nil, err
	}

	c.publish(events.SettlementCreated, si)
	return si, nil
}

// Confirm records a party's confirmation. Buyer and seller confirmations
// must come from the matching trade participant; the custodian role from
// the configured custodian actor. Re-confirming an already-confirmed
// party, or confirming a non-PENDING instruction, is a state conflict.
// Once every required party has confirmed, the instruction moves to
// PROCESSING.
func (c *Coordinator) Confirm(id string, party domain.SettlementParty, actor string) (*domain.SettlementInstruction, error) {
	if !party.Valid() {
		return nil, &domain.ValidationError{Message: "party must be buyer, seller, or custodian"}
	}
	si, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}

	switch party {
	case domain.PartyBuyer:
		if actor != si.Buyer {
			return nil, domain.ErrUnauthorized
		}
	case domain.PartySeller:
		if actor != si.Seller {
			return nil, domain.ErrUnauthorized
		}
	case domain.PartyCustodian:
		if actor != c.custodian {
			return nil, domain.ErrUnauthorized
		}
	}

	si.Lock()
	defer si.Unlock()

	if si.Status != domain.SettlementPending {
		return nil, domain.ErrStateConflict
	}

	switch party {
	case domain.PartyBuyer:
		if si.Confirmations.Buyer {
			return nil, domain.ErrStateConflict
		}
		si.Confirmations.Buyer = true
	case domain.PartySeller:
		if si.Confirmations.Seller {
			return nil, domain.ErrStateConflict
		}
		si.Confirmations.Seller = true
	case domain.PartyCustodian:
		if !si.CustodianRequired || si.Confirmations.Custodian {
			return nil, domain.ErrStateConflict
		}
		si.Confirmations.Custodian = true
	}
	si.UpdatedAt = time.Now()

	if si.FullyConfirmed() {
		si.Transition(domain.SettlementProcessing, si.UpdatedAt, "all parties confirmed")
	}

	c.publish(events.SettlementConfirmed, si)
	return si, nil
}

// Sweep executes every PROCESSING instruction whose settlement date has
// arrived. This is the only transition driven by time rather than by an
// actor. Execution success moves the instruction to SETTLED and the
// underlying trade to settled; failure moves both to FAILED. Failures
// are not retried by the core — an operator workflow re-creates the
// instruction, and executor idempotency per instruction ID makes that
// safe. A sweep with nothing eligible reports zeros and writes nothing.
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) SweepResult {
	var result SweepResult
	for _, si := range c.store.All() {
		si.Lock()
		if si.Status != domain.SettlementProcessing || si.SettlementDate.After(now) {
			si.Unlock()
			continue
		}
		result.Total++

		ref, err := c.executor.Execute(ctx, si)
		if err != nil {
			si.FailureReason = err.Error()
			si.Transition(domain.SettlementFailed, now, err.Error())
			si.Unlock()
			result.Failed++
			c.markTrade(si.TradeID, domain.TradeStatusFailed, now)
			c.publish(events.SettlementFailed, si)
			slog.Warn("settlement execution failed",
				slog.String("settlement_id", si.ID),
				slog.String("trade_id", si.TradeID),
				slog.String("error", err.Error()),
			)
			continue
		}

		si.ExecutionRef = ref
		settledAt := now
		si.SettledAt = &settledAt
		si.Transition(domain.SettlementSettled, now, "executed")
		si.Unlock()
		result.Processed++
		c.markTrade(si.TradeID, domain.TradeStatusSettled, now)
		c.publish(events.SettlementSettled, si)
	}
	return result
}

// Cancel moves a non-terminal instruction to CANCELLED. SETTLED (and
// any other terminal status) cannot be cancelled.
func (c *Coordinator) Cancel(id, reason string) (*domain.SettlementInstruction, error) {
	si, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}

	si.Lock()
	if si.Status.Terminal() {
		si.Unlock()
		return nil, domain.ErrStateConflict
	}
	si.Transition(domain.SettlementCancelled, time.Now(), reason)
	si.Unlock()

	c.markTrade(si.TradeID, domain.TradeStatusCancelled, time.Now())
	c.publish(events.SettlementCancelled, si)
	return si, nil
}

// Netting reports per-user net cash and per-symbol net asset quantity
// across all PENDING instructions settling on date. A derived report —
// no state changes.
func (c *Coordinator) Netting(date time.Time) []NetPosition {
	byUser := make(map[string]*NetPosition)
	pos := func(user string) *NetPosition {
		p, ok := byUser[user]
		if !ok {
			p = &NetPosition{User: user, Assets: make(map[string]int64)}
			byUser[user] = p
		}
		return p
	}

	for _, si := range c.store.All() {
		si.Lock()
		eligible := si.Status == domain.SettlementPending && SameDate(si.SettlementDate, date)
		buyer, seller := si.Buyer, si.Seller
		amount, symbol, qty := si.Payment.Amount, si.Asset.Symbol, si.Asset.Quantity
		si.Unlock()
		if !eligible {
			continue
		}

		b := pos(buyer)
		b.NetCash -= amount
		b.Assets[symbol] += qty

		s := pos(seller)
		s.NetCash += amount
		s.Assets[symbol] -= qty
	}

	out := make([]NetPosition, 0, len(byUser))
	for _, p := range byUser {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}

// Get returns an instruction by ID.
func (c *Coordinator) Get(id string) (*domain.SettlementInstruction, error) {
	return c.store.Get(id)
}

// Start launches a background goroutine that sweeps at the configured
// interval until ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				c.Sweep(ctx, t)
			}
		}
	}()
}

func (c *Coordinator) markTrade(tradeID string, status domain.TradeStatus, at time.Time) {
	if err := c.trades.SetStatus(tradeID, status, at); err != nil {
		slog.Warn("failed to update trade status",
			slog.String("trade_id", tradeID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) publish(t events.Type, si *domain.SettlementInstruction) {
	if c.bus != nil {
		c.bus.Publish(events.Event{Type: t, At: time.Now(), Settlement: si})
	}
}

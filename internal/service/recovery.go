package service

import (
	"fmt"
	"log/slog"

	"github.com/openclear/tradecore/internal/domain"
	"github.com/openclear/tradecore/internal/engine"
	"github.com/openclear/tradecore/internal/events"
	"github.com/openclear/tradecore/internal/journal"
	"github.com/openclear/tradecore/internal/ledger"
	"github.com/openclear/tradecore/internal/store"
)

// Recovery rebuilds the in-memory state from the event journal on
// startup. Events carry full entity snapshots, so replay keeps the last
// snapshot per entity and reinstates it: resting limit orders go back on
// their books, parked stop orders back into the stop index, trades into
// the ledger, settlement instructions into their store.
type Recovery struct {
	orders      *store.OrderStore
	settlements *store.SettlementStore
	trades      *ledger.Ledger
	matcher     *engine.Matcher
	stops       *engine.StopIndex
	expiry      *engine.ExpiryManager
}

// NewRecovery creates a Recovery over the given state holders.
func NewRecovery(
	orders *store.OrderStore,
	settlements *store.SettlementStore,
	trades *ledger.Ledger,
	matcher *engine.Matcher,
	stops *engine.StopIndex,
	expiry *engine.ExpiryManager,
) *Recovery {
	return &Recovery{
		orders:      orders,
		settlements: settlements,
		trades:      trades,
		matcher:     matcher,
		stops:       stops,
		expiry:      expiry,
	}
}

// Replay reads the journal at path and reloads state. A missing journal
// is a clean start. Returns the number of events replayed.
func (r *Recovery) Replay(path string) (int, error) {
	lastOrder := make(map[string]*domain.Order)
	lastTrade := make(map[string]*domain.Trade)
	lastSettlement := make(map[string]*domain.SettlementInstruction)
	var orderSeq, tradeSeq, settlementSeq []string

	count := 0
	err := journal.Replay(path, func(e events.Event) error {
		count++
		switch {
		case e.Order != nil:
			if _, seen := lastOrder[e.Order.ID]; !seen {
				orderSeq = append(orderSeq, e.Order.ID)
			}
			lastOrder[e.Order.ID] = e.Order
		case e.Trade != nil:
			if _, seen := lastTrade[e.Trade.ID]; !seen {
				tradeSeq = append(tradeSeq, e.Trade.ID)
			}
			lastTrade[e.Trade.ID] = e.Trade
		case e.Settlement != nil:
			if _, seen := lastSettlement[e.Settlement.ID]; !seen {
				settlementSeq = append(settlementSeq, e.Settlement.ID)
			}
			lastSettlement[e.Settlement.ID] = e.Settlement
		}
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("replaying journal: %w", err)
	}

	for _, id := range tradeSeq {
		r.trades.Record(lastTrade[id])
	}
	for _, id := range orderSeq {
		r.restoreOrder(lastOrder[id])
	}
	for _, id := range settlementSeq {
		if err := r.settlements.Create(lastSettlement[id]); err != nil {
			slog.Warn("skipping settlement during replay",
				slog.String("settlement_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	if count > 0 {
		slog.Info("journal replay complete",
			slog.Int("events", count),
			slog.Int("orders", len(orderSeq)),
			slog.Int("trades", len(tradeSeq)),
			slog.Int("settlements", len(settlementSeq)),
		)
	}
	return count, nil
}

func (r *Recovery) restoreOrder(o *domain.Order) {
	r.orders.Create(o)
	if !o.Resting() {
		return
	}
	if o.Type.IsStop() {
		r.stops.Add(o)
	} else if o.Type == domain.OrderTypeLimit {
		r.matcher.Restore(o)
	}
	if o.ExpiresAt != nil {
		r.expiry.Add(o)
	}
}

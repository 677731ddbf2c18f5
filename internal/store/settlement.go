package store

import (
	"sync"

	"github.com/openclear/tradecore/internal/domain"
)

// SettlementStore is a thread-safe in-memory store for settlement
// instructions, indexed by instruction ID and trade ID.
type SettlementStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.SettlementInstruction
	byTrade map[string]*domain.SettlementInstruction
	order   []*domain.SettlementInstruction // creation order
}

// NewSettlementStore creates an empty SettlementStore.
func NewSettlementStore() *SettlementStore {
	return &SettlementStore{
		byID:    make(map[string]*domain.SettlementInstruction),
		byTrade: make(map[string]*domain.SettlementInstruction),
	}
}

// Create adds an instruction. Returns ErrStateConflict if one already
// exists for the same trade — instructions are 1:1 with trades.
func (s *SettlementStore) Create(si *domain.SettlementInstruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byTrade[si.TradeID]; ok {
		return domain.ErrStateConflict
	}
	s.byID[si.ID] = si
	s.byTrade[si.TradeID] = si
	s.order = append(s.order, si)
	return nil
}

// Get retrieves an instruction by ID, or domain.ErrSettlementNotFound.
func (s *SettlementStore) Get(id string) (*domain.SettlementInstruction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	si, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrSettlementNotFound
	}
	return si, nil
}

// ByTrade retrieves the instruction created for a trade, if any.
func (s *SettlementStore) ByTrade(tradeID string) (*domain.SettlementInstruction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	si, ok := s.byTrade[tradeID]
	return si, ok
}

// All returns every instruction in creation order.
func (s *SettlementStore) All() []*domain.SettlementInstruction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.SettlementInstruction, len(s.order))
	copy(out, s.order)
	return out
}

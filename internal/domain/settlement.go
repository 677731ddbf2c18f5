package domain

import (
	"sync"
	"time"
)

// SettlementCycle is the number of business days between trade date and
// settlement date (T+N).
type SettlementCycle int

const (
	CycleT0 SettlementCycle = 0
	CycleT1 SettlementCycle = 1
	CycleT2 SettlementCycle = 2
	CycleT3 SettlementCycle = 3
)

// Valid reports whether c is a supported settlement cycle.
func (c SettlementCycle) Valid() bool {
	return c >= CycleT0 && c <= CycleT3
}

// SettlementStatus represents the lifecycle state of a settlement
// instruction. Transitions are monotone forward except the explicit
// CANCELLED branch.
type SettlementStatus string

const (
	SettlementPending    SettlementStatus = "PENDING"
	SettlementProcessing SettlementStatus = "PROCESSING"
	SettlementSettled    SettlementStatus = "SETTLED"
	SettlementFailed     SettlementStatus = "FAILED"
	SettlementCancelled  SettlementStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s SettlementStatus) Terminal() bool {
	switch s {
	case SettlementSettled, SettlementFailed, SettlementCancelled:
		return true
	}
	return false
}

// SettlementParty identifies a confirming role on an instruction.
type SettlementParty string

const (
	PartyBuyer     SettlementParty = "buyer"
	PartySeller    SettlementParty = "seller"
	PartyCustodian SettlementParty = "custodian"
)

// Valid reports whether p is a known settlement party.
func (p SettlementParty) Valid() bool {
	return p == PartyBuyer || p == PartySeller || p == PartyCustodian
}

// AssetLeg describes the asset side of a settlement.
type AssetLeg struct {
	Type     string // e.g. "equity", "crypto"
	Symbol   string
	Quantity int64
}

// PaymentLeg describes the cash side of a settlement.
type PaymentLeg struct {
	Amount   int64 // cents
	Currency string
}

// Confirmations tracks which parties have confirmed an instruction.
type Confirmations struct {
	Buyer     bool
	Seller    bool
	Custodian bool
}

// StatusChange is one entry in an instruction's status history.
type StatusChange struct {
	From   SettlementStatus
	To     SettlementStatus
	At     time.Time
	Reason string
}

// SettlementInstruction carries one trade through the settlement
// lifecycle. Created 1:1 with a trade. The embedded lock guards Status,
// Confirmations, and history so that confirmation updates and the
// time-driven sweep never interleave on the same instruction.
type SettlementInstruction struct {
	mu sync.Mutex

	ID                string
	TradeID           string
	Buyer             string
	Seller            string
	Asset             AssetLeg
	Payment           PaymentLeg
	Cycle             SettlementCycle
	TradeDate         time.Time
	SettlementDate    time.Time
	Status            SettlementStatus
	Confirmations     Confirmations
	CustodianRequired bool
	Fees              int64 // cents; maker fee + taker fee carried from the trade
	StatusHistory     []StatusChange
	FailureReason     string
	ExecutionRef      string // external transfer reference, set on SETTLED
	SettledAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Lock acquires the per-instruction lock.
func (si *SettlementInstruction) Lock() { si.mu.Lock() }

// Unlock releases the per-instruction lock.
func (si *SettlementInstruction) Unlock() { si.mu.Unlock() }

// FullyConfirmed reports whether every required party has confirmed.
// The caller must hold the instruction lock.
func (si *SettlementInstruction) FullyConfirmed() bool {
	if !si.Confirmations.Buyer || !si.Confirmations.Seller {
		return false
	}
	if si.CustodianRequired && !si.Confirmations.Custodian {
		return false
	}
	return true
}

// Transition records a status change with history. The caller must hold
// the instruction lock.
func (si *SettlementInstruction) Transition(to SettlementStatus, at time.Time, reason string) {
	si.StatusHistory = append(si.StatusHistory, StatusChange{
		From:   si.Status,
		To:     to,
		At:     at,
		Reason: reason,
	})
	si.Status = to
	si.UpdatedAt = at
}

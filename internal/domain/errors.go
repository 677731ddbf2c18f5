package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrOrderNotFound      = errors.New("order_not_found")
	ErrTradeNotFound      = errors.New("trade_not_found")
	ErrSettlementNotFound = errors.New("settlement_not_found")
	ErrPairNotFound       = errors.New("pair_not_found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrStateConflict      = errors.New("state_conflict")
	ErrNoLiquidity        = errors.New("no_liquidity")
	ErrNoCross            = errors.New("no_cross")
	ErrTradingHalted      = errors.New("trading_halted")
	ErrComplianceRejected = errors.New("compliance_rejected")
)

// ValidationError represents an order or request validation failure.
// Validation happens before any state is created, so a ValidationError
// never leaves a partial record behind.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

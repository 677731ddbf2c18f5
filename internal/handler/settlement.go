package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openclear/tradecore/internal/domain"
	"github.com/openclear/tradecore/internal/settlement"
)

// SettlementHandler handles HTTP requests for settlement endpoints.
type SettlementHandler struct {
	coordinator *settlement.Coordinator
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(coordinator *settlement.Coordinator) *SettlementHandler {
	return &SettlementHandler{coordinator: coordinator}
}

// settlementResponse is the JSON representation of a settlement
// instruction. Money fields are dollars.
type settlementResponse struct {
	SettlementID      string                 `json:"settlement_id"`
	TradeID           string                 `json:"trade_id"`
	Buyer             string                 `json:"buyer"`
	Seller            string                 `json:"seller"`
	AssetType         string                 `json:"asset_type"`
	Symbol            string                 `json:"symbol"`
	Quantity          int64                  `json:"quantity"`
	Amount            float64                `json:"amount"`
	Currency          string                 `json:"currency"`
	Cycle             int                    `json:"cycle"`
	TradeDate         string                 `json:"trade_date"`
	SettlementDate    string                 `json:"settlement_date"`
	Status            string                 `json:"status"`
	Confirmations     confirmationsResponse  `json:"confirmations"`
	CustodianRequired bool                   `json:"custodian_required"`
	Fees              float64                `json:"fees"`
	StatusHistory     []statusChangeResponse `json:"status_history"`
	FailureReason     *string                `json:"failure_reason"`
	ExecutionRef      *string                `json:"execution_ref"`
	SettledAt         *string                `json:"settled_at"`
	CreatedAt         string                 `json:"created_at"`
}

type confirmationsResponse struct {
	Buyer     bool `json:"buyer"`
	Seller    bool `json:"seller"`
	Custodian bool `json:"custodian"`
}

type statusChangeResponse struct {
	From   string `json:"from"`
	To     string `json:"to"`
	At     string `json:"at"`
	Reason string `json:"reason"`
}

// GetSettlement handles GET /settlements/{settlement_id}.
func (h *SettlementHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	si, err := h.coordinator.Get(chi.URLParam(r, "settlement_id"))
	if err != nil {
		mapSettlementError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildSettlementResponse(si))
}

// confirmRequest is the JSON request body for POST
// /settlements/{settlement_id}/confirm.
type confirmRequest struct {
	Party string `json:"party"`
	Actor string `json:"actor"`
}

// Confirm handles POST /settlements/{settlement_id}/confirm.
func (h *SettlementHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	party := domain.SettlementParty(req.Party)
	if !party.Valid() {
		WriteError(w, http.StatusBadRequest, "validation_error", "party must be one of: buyer, seller, custodian")
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = actorID(r)
	}

	si, err := h.coordinator.Confirm(chi.URLParam(r, "settlement_id"), party, actor)
	if err != nil {
		mapSettlementError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildSettlementResponse(si))
}

// cancelSettlementRequest is the optional JSON request body for DELETE
// /settlements/{settlement_id}.
type cancelSettlementRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles DELETE /settlements/{settlement_id}.
func (h *SettlementHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	reason := "cancelled_by_operator"
	var req cancelSettlementRequest
	if r.ContentLength > 0 {
		if err := ParseJSON(r, &req); err == nil && req.Reason != "" {
			reason = req.Reason
		}
	}

	si, err := h.coordinator.Cancel(chi.URLParam(r, "settlement_id"), reason)
	if err != nil {
		mapSettlementError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildSettlementResponse(si))
}

// Sweep handles POST /settlements/sweep: it settles every PROCESSING
// instruction whose settlement date has arrived.
func (h *SettlementHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result := h.coordinator.Sweep(r.Context(), time.Now())
	WriteJSON(w, http.StatusOK, map[string]int{
		"processed": result.Processed,
		"failed":    result.Failed,
		"total":     result.Total,
	})
}

// netPositionResponse is one user's net obligations for a settlement
// date.
type netPositionResponse struct {
	User    string           `json:"user"`
	NetCash float64          `json:"net_cash"`
	Assets  map[string]int64 `json:"assets"`
}

// Netting handles GET /settlements/netting?date=YYYY-MM-DD.
func (h *SettlementHandler) Netting(w http.ResponseWriter, r *http.Request) {
	dateStr := r.URL.Query().Get("date")
	if dateStr == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "date query parameter is required (YYYY-MM-DD)")
		return
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "date must be formatted as YYYY-MM-DD")
		return
	}

	positions := h.coordinator.Netting(date)
	items := make([]netPositionResponse, len(positions))
	for i, p := range positions {
		items[i] = netPositionResponse{
			User:    p.User,
			NetCash: domain.CentsToDollars(p.NetCash),
			Assets:  p.Assets,
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"date":      dateStr,
		"positions": items,
	})
}

// buildSettlementResponse converts a settlement instruction to its JSON
// representation. It takes the instruction lock so a concurrent sweep
// cannot produce a torn read.
func buildSettlementResponse(si *domain.SettlementInstruction) settlementResponse {
	si.Lock()
	defer si.Unlock()

	resp := settlementResponse{
		SettlementID:   si.ID,
		TradeID:        si.TradeID,
		Buyer:          si.Buyer,
		Seller:         si.Seller,
		AssetType:      si.Asset.Type,
		Symbol:         si.Asset.Symbol,
		Quantity:       si.Asset.Quantity,
		Amount:         domain.CentsToDollars(si.Payment.Amount),
		Currency:       si.Payment.Currency,
		Cycle:          int(si.Cycle),
		TradeDate:      si.TradeDate.UTC().Format("2006-01-02"),
		SettlementDate: si.SettlementDate.UTC().Format("2006-01-02"),
		Status:         string(si.Status),
		Confirmations: confirmationsResponse{
			Buyer:     si.Confirmations.Buyer,
			Seller:    si.Confirmations.Seller,
			Custodian: si.Confirmations.Custodian,
		},
		CustodianRequired: si.CustodianRequired,
		Fees:              domain.CentsToDollars(si.Fees),
		CreatedAt:         si.CreatedAt.UTC().Format(timeFormat),
	}

	resp.StatusHistory = make([]statusChangeResponse, len(si.StatusHistory))
	for i, sc := range si.StatusHistory {
		resp.StatusHistory[i] = statusChangeResponse{
			From:   string(sc.From),
			To:     string(sc.To),
			At:     sc.At.UTC().Format(timeFormat),
			Reason: sc.Reason,
		}
	}

	if si.FailureReason != "" {
		s := si.FailureReason
		resp.FailureReason = &s
	}
	if si.ExecutionRef != "" {
		s := si.ExecutionRef
		resp.ExecutionRef = &s
	}
	if si.SettledAt != nil {
		s := si.SettledAt.UTC().Format(timeFormat)
		resp.SettledAt = &s
	}
	return resp
}

// mapSettlementError maps domain errors to HTTP responses for
// settlement endpoints.
func mapSettlementError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrSettlementNotFound):
		WriteError(w, http.StatusNotFound, "settlement_not_found", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		WriteError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, domain.ErrStateConflict):
		WriteError(w, http.StatusConflict, "state_conflict", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

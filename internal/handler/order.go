package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/openclear/tradecore/internal/domain"
	"github.com/openclear/tradecore/internal/service"
)

// OrderHandler handles HTTP requests for order and auction endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// submitOrderRequest is the JSON request body for POST /orders.
type submitOrderRequest struct {
	Owner          string   `json:"owner"`
	Symbol         string   `json:"symbol"`
	Side           string   `json:"side"`
	Type           string   `json:"type"`
	TimeInForce    string   `json:"time_in_force"`
	Quantity       int64    `json:"quantity"`
	Price          *float64 `json:"price"`
	StopPrice      *float64 `json:"stop_price"`
	LimitPrice     *float64 `json:"limit_price"`
	TrailingOffset *float64 `json:"trailing_offset"`
	ExpiresAt      *string  `json:"expires_at"`
}

// modifyOrderRequest is the JSON request body for PATCH /orders/{order_id}.
type modifyOrderRequest struct {
	Price      *float64 `json:"price"`
	Quantity   *int64   `json:"quantity"`
	StopPrice  *float64 `json:"stop_price"`
	LimitPrice *float64 `json:"limit_price"`
	ExpiresAt  *string  `json:"expires_at"`
}

// orderResponse is the JSON representation of an order. Nullable fields
// use pointers; price fields are dollars.
type orderResponse struct {
	OrderID           string         `json:"order_id"`
	Owner             string         `json:"owner"`
	Symbol            string         `json:"symbol"`
	Side              string         `json:"side"`
	Type              string         `json:"type"`
	TimeInForce       string         `json:"time_in_force"`
	Quantity          int64          `json:"quantity"`
	FilledQuantity    int64          `json:"filled_quantity"`
	RemainingQuantity int64          `json:"remaining_quantity"`
	Price             *float64       `json:"price"`
	StopPrice         *float64       `json:"stop_price"`
	LimitPrice        *float64       `json:"limit_price"`
	TrailingOffset    *float64       `json:"trailing_offset"`
	Status            string         `json:"status"`
	AveragePrice      *float64       `json:"average_price"`
	FeesEstimated     float64        `json:"fees_estimated"`
	FeesActual        float64        `json:"fees_actual"`
	CancelReason      *string        `json:"cancel_reason"`
	ExpiresAt         *string        `json:"expires_at"`
	CreatedAt         string         `json:"created_at"`
	UpdatedAt         string         `json:"updated_at"`
	Fills             []fillResponse `json:"fills"`
}

// fillResponse is a single fill in the order response.
type fillResponse struct {
	TradeID    string  `json:"trade_id"`
	Price      float64 `json:"price"`
	Quantity   int64   `json:"quantity"`
	Fee        float64 `json:"fee"`
	ExecutedAt string  `json:"executed_at"`
}

const timeFormat = "2006-01-02T15:04:05Z"

// SubmitOrder handles POST /orders.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	expiresAt, ok := parseTimePtr(w, req.ExpiresAt)
	if !ok {
		return
	}

	order, err := h.orderSvc.Submit(service.SubmitOrderRequest{
		Owner:          req.Owner,
		Symbol:         req.Symbol,
		Side:           domain.Side(req.Side),
		Type:           domain.OrderType(req.Type),
		TimeInForce:    domain.TimeInForce(req.TimeInForce),
		Quantity:       req.Quantity,
		Price:          req.Price,
		StopPrice:      req.StopPrice,
		LimitPrice:     req.LimitPrice,
		TrailingOffset: req.TrailingOffset,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.Get(chi.URLParam(r, "order_id"))
	if err != nil {
		mapOrderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// CancelOrder handles DELETE /orders/{order_id}. The acting user comes
// from the X-User-ID header and must own the order.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.Cancel(chi.URLParam(r, "order_id"), actorID(r))
	if err != nil {
		mapOrderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// ModifyOrder handles PATCH /orders/{order_id}.
func (h *OrderHandler) ModifyOrder(w http.ResponseWriter, r *http.Request) {
	var req modifyOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	expiresAt, ok := parseTimePtr(w, req.ExpiresAt)
	if !ok {
		return
	}

	order, err := h.orderSvc.Modify(chi.URLParam(r, "order_id"), actorID(r), service.ModifyOrderRequest{
		Price:      req.Price,
		Quantity:   req.Quantity,
		StopPrice:  req.StopPrice,
		LimitPrice: req.LimitPrice,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		mapOrderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// ListOrders handles GET /users/{user_id}/orders with optional status,
// page, and limit query parameters.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	var status *domain.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.OrderStatus(s)
		status = &st
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)

	orders, total := h.orderSvc.ListByOwner(userID, status, page, limit)
	items := make([]any, len(orders))
	for i, o := range orders {
		items[i] = buildOrderResponse(o)
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"orders": items,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

// auctionResponse is the JSON response for POST /auctions/{symbol}.
type auctionResponse struct {
	Symbol        string   `json:"symbol"`
	ClearingPrice float64  `json:"clearing_price"`
	Volume        int64    `json:"volume"`
	TradeIDs      []string `json:"trade_ids"`
}

// RunAuction handles POST /auctions/{symbol}.
func (h *OrderHandler) RunAuction(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	result, err := h.orderSvc.RunBatchAuction(symbol)
	if err != nil {
		mapOrderError(w, err)
		return
	}

	ids := make([]string, len(result.Trades))
	for i, t := range result.Trades {
		ids[i] = t.ID
	}
	WriteJSON(w, http.StatusOK, auctionResponse{
		Symbol:        symbol,
		ClearingPrice: domain.CentsToDollars(result.ClearingPrice),
		Volume:        result.Volume,
		TradeIDs:      ids,
	})
}

// buildOrderResponse converts a domain order to its JSON representation.
func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:           o.ID,
		Owner:             o.Owner,
		Symbol:            o.Symbol,
		Side:              string(o.Side),
		Type:              string(o.Type),
		TimeInForce:       string(o.TimeInForce),
		Quantity:          o.Quantity,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity,
		Status:            string(o.Status),
		FeesEstimated:     domain.CentsToDollars(o.FeesEstimated),
		FeesActual:        domain.CentsToDollars(o.FeesActual),
		CreatedAt:         o.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:         o.UpdatedAt.UTC().Format(timeFormat),
		Fills:             buildFillResponses(o.Fills),
	}

	resp.Price = centsPtr(o.Price)
	resp.StopPrice = centsPtr(o.StopPrice)
	resp.LimitPrice = centsPtr(o.LimitPrice)
	resp.TrailingOffset = centsPtr(o.TrailingOffset)

	if avg, ok := o.AveragePrice(); ok {
		v, _ := avg.Div(decimal.NewFromInt(100)).Float64()
		resp.AveragePrice = &v
	}
	if o.CancelReason != "" {
		reason := o.CancelReason
		resp.CancelReason = &reason
	}
	if o.ExpiresAt != nil {
		s := o.ExpiresAt.UTC().Format(timeFormat)
		resp.ExpiresAt = &s
	}
	return resp
}

func buildFillResponses(fills []domain.Fill) []fillResponse {
	result := make([]fillResponse, len(fills))
	for i, f := range fills {
		result[i] = fillResponse{
			TradeID:    f.TradeID,
			Price:      domain.CentsToDollars(f.Price),
			Quantity:   f.Quantity,
			Fee:        domain.CentsToDollars(f.Fee),
			ExecutedAt: f.Timestamp.UTC().Format(timeFormat),
		}
	}
	return result
}

func centsPtr(cents int64) *float64 {
	if cents == 0 {
		return nil
	}
	v := domain.CentsToDollars(cents)
	return &v
}

func parseTimePtr(w http.ResponseWriter, s *string) (*time.Time, bool) {
	if s == nil {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "expires_at must be a valid RFC 3339 timestamp")
		return nil, false
	}
	return &t, true
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// mapOrderError maps domain errors to HTTP responses for order endpoints.
func mapOrderError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		WriteError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, domain.ErrPairNotFound):
		WriteError(w, http.StatusNotFound, "pair_not_found", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		WriteError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, domain.ErrTradingHalted):
		WriteError(w, http.StatusConflict, "trading_halted", err.Error())
	case errors.Is(err, domain.ErrComplianceRejected):
		WriteError(w, http.StatusForbidden, "compliance_rejected", err.Error())
	case errors.Is(err, domain.ErrStateConflict):
		WriteError(w, http.StatusConflict, "state_conflict", err.Error())
	case errors.Is(err, domain.ErrNoLiquidity):
		WriteError(w, http.StatusConflict, "no_liquidity", err.Error())
	case errors.Is(err, domain.ErrNoCross):
		WriteError(w, http.StatusConflict, "no_cross", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openclear/tradecore/internal/domain"
	"github.com/openclear/tradecore/internal/engine"
	"github.com/openclear/tradecore/internal/ledger"
	"github.com/openclear/tradecore/internal/service"
)

// MarketHandler handles HTTP requests for market data endpoints.
type MarketHandler struct {
	marketSvc *service.MarketService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

// ListPairs handles GET /symbols.
func (h *MarketHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"symbols": h.marketSvc.Pairs()})
}

// pairResponse is the JSON representation of a trading pair.
type pairResponse struct {
	Symbol            string  `json:"symbol"`
	Status            string  `json:"status"`
	TickSize          float64 `json:"tick_size"`
	MinQuantity       int64   `json:"min_quantity"`
	MaxQuantity       int64   `json:"max_quantity"`
	MinPrice          float64 `json:"min_price"`
	MaxPrice          float64 `json:"max_price"`
	MakerFeeRate      string  `json:"maker_fee_rate"`
	TakerFeeRate      string  `json:"taker_fee_rate"`
	MaxPriceDeviation string  `json:"max_price_deviation"`
}

// GetPair handles GET /symbols/{symbol}.
func (h *MarketHandler) GetPair(w http.ResponseWriter, r *http.Request) {
	pair, err := h.marketSvc.Pair(chi.URLParam(r, "symbol"))
	if err != nil {
		mapMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, pairResponse{
		Symbol:            pair.Symbol,
		Status:            string(pair.Status),
		TickSize:          domain.CentsToDollars(pair.TickSize),
		MinQuantity:       pair.MinQuantity,
		MaxQuantity:       pair.MaxQuantity,
		MinPrice:          domain.CentsToDollars(pair.MinPrice),
		MaxPrice:          domain.CentsToDollars(pair.MaxPrice),
		MakerFeeRate:      pair.MakerFeeRate.String(),
		TakerFeeRate:      pair.TakerFeeRate.String(),
		MaxPriceDeviation: pair.MaxPriceDeviation.String(),
	})
}

// levelResponse is one price level in the book response.
type levelResponse struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Orders   int     `json:"orders"`
}

// bookResponse is the JSON response for GET /symbols/{symbol}/book.
type bookResponse struct {
	Symbol     string          `json:"symbol"`
	Bids       []levelResponse `json:"bids"`
	Asks       []levelResponse `json:"asks"`
	Spread     *float64        `json:"spread"`
	Crossed    bool            `json:"crossed"`
	SnapshotAt string          `json:"snapshot_at"`
}

// GetBook handles GET /symbols/{symbol}/book with an optional depth
// query parameter.
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	snap, err := h.marketSvc.Book(chi.URLParam(r, "symbol"), queryInt(r, "depth", 10))
	if err != nil {
		mapMarketError(w, err)
		return
	}

	resp := bookResponse{
		Symbol:     snap.Symbol,
		Bids:       buildLevels(snap.Bids),
		Asks:       buildLevels(snap.Asks),
		Crossed:    snap.Crossed,
		SnapshotAt: snap.SnapshotAt.UTC().Format(timeFormat),
	}
	if snap.Spread != nil {
		v := domain.CentsToDollars(*snap.Spread)
		resp.Spread = &v
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetPrice handles GET /symbols/{symbol}/price.
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	price, err := h.marketSvc.Price(symbol)
	if err != nil {
		mapMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"price":  domain.CentsToDollars(price),
	})
}

// tradeResponse is the JSON representation of a trade.
type tradeResponse struct {
	TradeID      string  `json:"trade_id"`
	Symbol       string  `json:"symbol"`
	MakerOrderID string  `json:"maker_order_id"`
	TakerOrderID string  `json:"taker_order_id"`
	TakerSide    string  `json:"taker_side"`
	Quantity     int64   `json:"quantity"`
	Price        float64 `json:"price"`
	Notional     float64 `json:"notional"`
	MakerFee     float64 `json:"maker_fee"`
	TakerFee     float64 `json:"taker_fee"`
	Status       string  `json:"status"`
	ExecutedAt   string  `json:"executed_at"`
}

// ListTrades handles GET /symbols/{symbol}/trades with optional from/to
// query parameters (RFC 3339, default last 24 hours).
func (h *MarketHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	trades, err := h.marketSvc.Trades(chi.URLParam(r, "symbol"), from, to)
	if err != nil {
		mapMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"trades": buildTradeResponses(trades)})
}

// ListUserTrades handles GET /users/{user_id}/trades.
func (h *MarketHandler) ListUserTrades(w http.ResponseWriter, r *http.Request) {
	trades := h.marketSvc.TradesByUser(chi.URLParam(r, "user_id"))
	WriteJSON(w, http.StatusOK, map[string]any{"trades": buildTradeResponses(trades)})
}

// candleResponse is one OHLCV bucket.
type candleResponse struct {
	Start  string  `json:"start"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// GetOHLCV handles GET /symbols/{symbol}/ohlcv with optional width
// (Go duration, default 1m) and from/to query parameters.
func (h *MarketHandler) GetOHLCV(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	width := time.Minute
	if s := r.URL.Query().Get("width"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			WriteError(w, http.StatusBadRequest, "validation_error", "width must be a positive duration, e.g. 1m or 1h")
			return
		}
		width = d
	}

	candles, err := h.marketSvc.OHLCV(chi.URLParam(r, "symbol"), width, from, to)
	if err != nil {
		mapMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"candles": buildCandleResponses(candles)})
}

// GetVWAP handles GET /symbols/{symbol}/vwap with optional from/to.
func (h *MarketHandler) GetVWAP(w http.ResponseWriter, r *http.Request) {
	h.writeAverage(w, r, "vwap", h.marketSvc.VWAP)
}

// GetTWAP handles GET /symbols/{symbol}/twap with optional from/to.
func (h *MarketHandler) GetTWAP(w http.ResponseWriter, r *http.Request) {
	h.writeAverage(w, r, "twap", h.marketSvc.TWAP)
}

func (h *MarketHandler) writeAverage(w http.ResponseWriter, r *http.Request, key string, fn func(string, time.Time, time.Time) (int64, error)) {
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	symbol := chi.URLParam(r, "symbol")
	v, err := fn(symbol, from, to)
	if err != nil {
		mapMarketError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		key:      domain.CentsToDollars(v),
		"from":   from.UTC().Format(timeFormat),
		"to":     to.UTC().Format(timeFormat),
	})
}

func buildLevels(levels []engine.Level) []levelResponse {
	result := make([]levelResponse, len(levels))
	for i, l := range levels {
		result[i] = levelResponse{
			Price:    domain.CentsToDollars(l.Price),
			Quantity: l.TotalQuantity,
			Orders:   l.OrderCount,
		}
	}
	return result
}

func buildTradeResponses(trades []*domain.Trade) []tradeResponse {
	result := make([]tradeResponse, len(trades))
	for i, t := range trades {
		result[i] = tradeResponse{
			TradeID:      t.ID,
			Symbol:       t.Symbol,
			MakerOrderID: t.MakerOrderID,
			TakerOrderID: t.TakerOrderID,
			TakerSide:    string(t.TakerSide),
			Quantity:     t.Quantity,
			Price:        domain.CentsToDollars(t.Price),
			Notional:     domain.CentsToDollars(t.Notional),
			MakerFee:     domain.CentsToDollars(t.MakerFee),
			TakerFee:     domain.CentsToDollars(t.TakerFee),
			Status:       string(t.Status),
			ExecutedAt:   t.MatchedAt.UTC().Format(timeFormat),
		}
	}
	return result
}

func buildCandleResponses(candles []ledger.Candle) []candleResponse {
	result := make([]candleResponse, len(candles))
	for i, c := range candles {
		result[i] = candleResponse{
			Start:  c.Start.UTC().Format(timeFormat),
			Open:   domain.CentsToDollars(c.Open),
			High:   domain.CentsToDollars(c.High),
			Low:    domain.CentsToDollars(c.Low),
			Close:  domain.CentsToDollars(c.Close),
			Volume: c.Volume,
		}
	}
	return result
}

// parseWindow reads the from/to query parameters, defaulting to the
// last 24 hours.
func parseWindow(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	now := time.Now()
	from := now.Add(-24 * time.Hour)
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "from must be a valid RFC 3339 timestamp")
			return from, to, false
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "to must be a valid RFC 3339 timestamp")
			return from, to, false
		}
		to = t
	}
	if !from.Before(to) {
		WriteError(w, http.StatusBadRequest, "validation_error", "from must be before to")
		return from, to, false
	}
	return from, to, true
}

// mapMarketError maps domain errors to HTTP responses for market data
// endpoints.
func mapMarketError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPairNotFound):
		WriteError(w, http.StatusNotFound, "pair_not_found", err.Error())
	case errors.Is(err, domain.ErrTradeNotFound):
		WriteError(w, http.StatusNotFound, "trade_not_found", err.Error())
	case errors.Is(err, domain.ErrNoLiquidity):
		WriteError(w, http.StatusConflict, "no_liquidity", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openclear/tradecore/internal/events"
	"github.com/openclear/tradecore/internal/service"
	"github.com/openclear/tradecore/internal/settlement"
)

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware.
func NewRouter(
	orderSvc *service.OrderService,
	marketSvc *service.MarketService,
	settlementSvc *settlement.Coordinator,
	bus *events.Bus,
	logger *slog.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	// Create handlers.
	orderH := NewOrderHandler(orderSvc)
	marketH := NewMarketHandler(marketSvc)
	settlementH := NewSettlementHandler(settlementSvc)
	streamH := NewStreamHandler(bus, logger)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Order routes.
	r.Post("/orders", orderH.SubmitOrder)
	r.Get("/orders/{order_id}", orderH.GetOrder)
	r.Delete("/orders/{order_id}", orderH.CancelOrder)
	r.Patch("/orders/{order_id}", orderH.ModifyOrder)

	// User routes.
	r.Get("/users/{user_id}/orders", orderH.ListOrders)
	r.Get("/users/{user_id}/trades", marketH.ListUserTrades)

	// Auction routes.
	r.Post("/auctions/{symbol}", orderH.RunAuction)

	// Market data routes.
	r.Get("/symbols", marketH.ListPairs)
	r.Get("/symbols/{symbol}", marketH.GetPair)
	r.Get("/symbols/{symbol}/book", marketH.GetBook)
	r.Get("/symbols/{symbol}/price", marketH.GetPrice)
	r.Get("/symbols/{symbol}/trades", marketH.ListTrades)
	r.Get("/symbols/{symbol}/ohlcv", marketH.GetOHLCV)
	r.Get("/symbols/{symbol}/vwap", marketH.GetVWAP)
	r.Get("/symbols/{symbol}/twap", marketH.GetTWAP)

	// Settlement routes.
	r.Get("/settlements/{settlement_id}", settlementH.GetSettlement)
	r.Post("/settlements/{settlement_id}/confirm", settlementH.Confirm)
	r.Delete("/settlements/{settlement_id}", settlementH.Cancel)
	r.Post("/settlements/sweep", settlementH.Sweep)
	r.Get("/settlements/netting", settlementH.Netting)

	// Event stream.
	r.Get("/stream", streamH.Stream)

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests with a body. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) && r.ContentLength > 0 {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

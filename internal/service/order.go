package service

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openclear/tradecore/internal/domain"
	"github.com/openclear/tradecore/internal/engine"
	"github.com/openclear/tradecore/internal/events"
	"github.com/openclear/tradecore/internal/fees"
	"github.com/openclear/tradecore/internal/ledger"
	"github.com/openclear/tradecore/internal/settlement"
	"github.com/openclear/tradecore/internal/store"
)

var (
	ownerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	symbolRegex  = regexp.MustCompile(`^[A-Z]{1,10}$`)
)

// SubmitOrderRequest represents the input for order submission. Prices
// are dollars at the API edge and cents inside.
type SubmitOrderRequest struct {
	Owner          string
	Symbol         string
	Side           domain.Side
	Type           domain.OrderType
	TimeInForce    domain.TimeInForce // defaults to GTC (IOC for market orders)
	Quantity       int64
	Price          *float64
	StopPrice      *float64
	LimitPrice     *float64
	TrailingOffset *float64
	ExpiresAt      *time.Time
}

// OrderService owns order intake: validation, compliance and
// trading-status gating, submission into the matching engine or stop
// index, cancellation, modification, and the post-match fan-out
// (settlement creation, stop triggers, lifecycle events).
type OrderService struct {
	matcher     *engine.Matcher
	auctioneer  *engine.Auctioneer
	stops       *engine.StopIndex
	expiry      *engine.ExpiryManager
	orders      *store.OrderStore
	trades      *ledger.Ledger
	pairs       *domain.PairRegistry
	compliance  domain.ComplianceGate
	settlements *settlement.Coordinator
	fees        *fees.Calculator
	bus         *events.Bus
	cycle       domain.SettlementCycle
}

// NewOrderService creates an OrderService with the given dependencies.
func NewOrderService(
	matcher *engine.Matcher,
	auctioneer *engine.Auctioneer,
	stops *engine.StopIndex,
	expiry *engine.ExpiryManager,
	orders *store.OrderStore,
	trades *ledger.Ledger,
	pairs *domain.PairRegistry,
	compliance domain.ComplianceGate,
	settlements *settlement.Coordinator,
	feeCalc *fees.Calculator,
	bus *events.Bus,
	cycle domain.SettlementCycle,
) *OrderService {
	if compliance == nil {
		compliance = domain.AllowAll{}
	}
	return &OrderService{
		matcher:     matcher,
		auctioneer:  auctioneer,
		stops:       stops,
		expiry:      expiry,
		orders:      orders,
		trades:      trades,
		pairs:       pairs,
		compliance:  compliance,
		settlements: settlements,
		fees:        feeCalc,
		bus:         bus,
		cycle:       cycle,
	}
}

// Submit validates the request, gates it on trading status and
// compliance, and routes the order into the matching engine (market and
// limit orders) or the stop index (stop types). Validation failures
// reject before any record is created.
func (s *OrderService) Submit(req SubmitOrderRequest) (*domain.Order, error) {
	pair, err := s.validateCommon(&req)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		Owner:       req.Owner,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		TimeInForce: req.TimeInForce,
		Quantity:    req.Quantity,
		ExpiresAt:   req.ExpiresAt,
	}
	if err := s.applyPrices(order, &req, pair); err != nil {
		return nil, err
	}
	order.FeesEstimated = s.estimateFees(order, pair)

	if order.Type.IsStop() {
		return s.submitStop(order)
	}

	result, err := s.matcher.Process(order)
	if err != nil {
		return nil, err
	}

	if order.Resting() {
		s.expiry.Add(order)
	}

	s.publishOrder(events.OrderAccepted, order)
	if order.Status == domain.OrderStatusFilled {
		s.publishOrder(events.OrderFilled, order)
	}
	if order.Status == domain.OrderStatusCancelled {
		s.publishOrder(events.OrderCancelled, order)
	}
	s.afterMatch(order.Symbol, result.Trades)

	return order, nil
}

// submitStop parks a stop-type order in the stop index. It receives an
// ID and enters OPEN without touching the book; the trigger price
// releases it later.
func (s *OrderService) submitStop(order *domain.Order) (*domain.Order, error) {
	now := time.Now()
	order.ID = uuid.New().String()
	order.CreatedAt = now
	order.UpdatedAt = now
	order.RemainingQuantity = order.Quantity
	order.Fills = []domain.Fill{}
	order.Status = domain.OrderStatusOpen

	s.orders.Create(order)
	s.stops.Add(order)
	if order.ExpiresAt != nil {
		s.expiry.Add(order)
	}
	s.publishOrder(events.OrderAccepted, order)

	// An already-crossed trigger fires on the next trade; seed it with
	// the last known price so it can fire immediately.
	if last, ok := s.trades.LastPrice(order.Symbol); ok {
		s.releaseTriggered(order.Symbol, s.stops.OnPrice(order.Symbol, last))
	}
	return order, nil
}

// Cancel cancels an order on behalf of its owner.
func (s *OrderService) Cancel(orderID, actor string) (*domain.Order, error) {
	order, err := s.matcher.Cancel(orderID, actor, "cancelled_by_owner")
	if err != nil {
		return nil, err
	}
	s.stops.Remove(order.ID)
	s.expiry.Remove(order.ID)
	s.publishOrder(events.OrderCancelled, order)
	return order, nil
}

// ModifyOrderRequest carries the mutable fields for Modify; nil fields
// are unchanged. Prices are dollars.
type ModifyOrderRequest struct {
	Price      *float64
	Quantity   *int64
	StopPrice  *float64
	LimitPrice *float64
	ExpiresAt  *time.Time
}

// Modify updates a pending or open order. The new values are validated
// like a submission; a modified order forfeits its time priority and
// re-enters matching, since a price change can cross the book.
func (s *OrderService) Modify(orderID, actor string, req ModifyOrderRequest) (*domain.Order, error) {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	pair, err := s.pairs.Get(order.Symbol)
	if err != nil {
		return nil, err
	}

	fields := engine.ModifyFields{Quantity: req.Quantity, ExpiresAt: req.ExpiresAt}
	if req.Quantity != nil {
		if *req.Quantity < pair.MinQuantity || *req.Quantity > pair.MaxQuantity {
			return nil, &domain.ValidationError{Message: fmt.Sprintf(
				"quantity must be between %d and %d", pair.MinQuantity, pair.MaxQuantity)}
		}
	}
	if req.Price != nil {
		cents, err := s.validatePrice(*req.Price, pair)
		if err != nil {
			return nil, err
		}
		if err := s.checkDeviation(cents, pair); err != nil {
			return nil, err
		}
		fields.Price = &cents
	}
	if req.StopPrice != nil {
		cents, err := s.validatePrice(*req.StopPrice, pair)
		if err != nil {
			return nil, err
		}
		fields.StopPrice = &cents
	}
	if req.LimitPrice != nil {
		cents, err := s.validatePrice(*req.LimitPrice, pair)
		if err != nil {
			return nil, err
		}
		fields.LimitPrice = &cents
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return nil, &domain.ValidationError{Message: "expires_at must be a future timestamp"}
	}

	// Parked stop orders are modified in place in the stop index; book
	// orders go through the matcher and may immediately trade.
	if parked, ok := s.stops.Remove(orderID); ok {
		if parked.Owner != actor {
			s.stops.Add(parked)
			return nil, domain.ErrUnauthorized
		}
		applyStopFields(parked, fields)
		s.stops.Add(parked)
		s.publishOrder(events.OrderModified, parked)
		return parked, nil
	}

	order, result, err := s.matcher.Modify(orderID, actor, fields)
	if err != nil {
		return nil, err
	}
	if fields.ExpiresAt != nil {
		s.expiry.Remove(order.ID)
		if order.Resting() {
			s.expiry.Add(order)
		}
	}
	s.publishOrder(events.OrderModified, order)
	if order.Status == domain.OrderStatusFilled {
		s.publishOrder(events.OrderFilled, order)
	}
	s.afterMatch(order.Symbol, result.Trades)
	return order, nil
}

func applyStopFields(o *domain.Order, f engine.ModifyFields) {
	if f.Quantity != nil {
		o.Quantity = *f.Quantity
		o.RemainingQuantity = *f.Quantity - o.FilledQuantity
	}
	if f.StopPrice != nil {
		o.StopPrice = *f.StopPrice
	}
	if f.LimitPrice != nil {
		o.LimitPrice = *f.LimitPrice
	}
	if f.ExpiresAt != nil {
		o.ExpiresAt = f.ExpiresAt
	}
	o.UpdatedAt = time.Now()
}

// Get returns a point-in-time copy of an order by ID.
func (s *OrderService) Get(orderID string) (*domain.Order, error) {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(order), nil
}

// ListByOwner returns an owner's orders, newest first, optionally
// filtered by status.
func (s *OrderService) ListByOwner(owner string, status *domain.OrderStatus, page, limit int) ([]*domain.Order, int) {
	orders, total := s.orders.ListByOwner(owner, status, page, limit)
	out := make([]*domain.Order, len(orders))
	for i, o := range orders {
		out[i] = s.snapshot(o)
	}
	return out, total
}

// snapshot copies an order under its symbol's book lock so the read
// does not race a matching pass mutating fills mid-flight.
func (s *OrderService) snapshot(o *domain.Order) *domain.Order {
	book := s.matcher.Books().GetOrCreate(o.Symbol)
	book.RLock()
	defer book.RUnlock()
	return o.Clone()
}

// ExpireSweep expires every resting order whose expiry has passed and
// returns how many transitioned.
func (s *OrderService) ExpireSweep(now time.Time) int {
	return len(s.expiry.Sweep(now))
}

// RunBatchAuction executes a batch auction for the symbol and fans out
// the resulting trades like any continuous match.
func (s *OrderService) RunBatchAuction(symbol string) (*engine.AuctionResult, error) {
	if _, err := s.pairs.Get(symbol); err != nil {
		return nil, err
	}
	result, err := s.auctioneer.Run(symbol)
	if err != nil {
		return nil, err
	}
	s.afterMatch(symbol, result.Trades)
	return result, nil
}

// afterMatch handles the fan-out for newly executed trades: lifecycle
// events, settlement creation, and stop triggers (which can cascade
// into further matches).
func (s *OrderService) afterMatch(symbol string, trades []*domain.Trade) {
	for _, t := range trades {
		s.bus.Publish(events.Event{Type: events.TradeExecuted, At: t.MatchedAt, Trade: t})
		if maker, err := s.orders.Get(t.MakerOrderID); err == nil && maker.Status == domain.OrderStatusFilled {
			s.publishOrder(events.OrderFilled, maker)
		}
		if s.settlements != nil {
			if _, err := s.settlements.Create(t, s.cycle); err != nil {
				slog.Error("settlement creation failed",
					slog.String("trade_id", t.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	for _, t := range trades {
		s.releaseTriggered(symbol, s.stops.OnPrice(symbol, t.Price))
	}
}

// releaseTriggered runs fired stop orders through the matching engine.
// The resulting trades can fire further stops; the cascade runs to
// quiescence.
func (s *OrderService) releaseTriggered(symbol string, fired []*domain.Order) {
	for _, o := range fired {
		result, err := s.matcher.Release(o)
		if err != nil {
			slog.Error("stop order release failed",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if o.Resting() {
			s.expiry.Add(o)
		}
		s.publishOrder(events.OrderModified, o)
		if o.Status == domain.OrderStatusFilled {
			s.publishOrder(events.OrderFilled, o)
		}
		if o.Status == domain.OrderStatusCancelled {
			s.publishOrder(events.OrderCancelled, o)
		}
		s.afterMatch(symbol, result.Trades)
	}
}

func (s *OrderService) publishOrder(t events.Type, o *domain.Order) {
	s.bus.Publish(events.Event{Type: t, At: time.Now(), Order: o})
}

// validateCommon checks the request fields shared by every order type
// and returns the trading pair. It applies the trading-status and
// compliance gates and defaults the time-in-force.
func (s *OrderService) validateCommon(req *SubmitOrderRequest) (*domain.TradingPair, error) {
	if !ownerIDRegex.MatchString(req.Owner) {
		return nil, &domain.ValidationError{Message: "owner must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if !symbolRegex.MatchString(req.Symbol) {
		return nil, &domain.ValidationError{Message: "symbol must match ^[A-Z]{1,10}$"}
	}
	if !req.Side.Valid() {
		return nil, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	if !req.Type.Valid() {
		return nil, &domain.ValidationError{Message: fmt.Sprintf(
			"unknown order type: %s. Must be one of: market, limit, stop_loss, stop_limit, take_profit, trailing_stop", req.Type)}
	}
	if req.TimeInForce == "" {
		if req.Type == domain.OrderTypeMarket {
			req.TimeInForce = domain.TimeInForceIOC
		} else {
			req.TimeInForce = domain.TimeInForceGTC
		}
	}
	if !req.TimeInForce.Valid() {
		return nil, &domain.ValidationError{Message: "time_in_force must be one of: GTC, IOC, FOK, DAY"}
	}
	if req.Type == domain.OrderTypeMarket && req.TimeInForce != domain.TimeInForceIOC {
		return nil, &domain.ValidationError{Message: "market orders are always immediate-or-cancel"}
	}

	pair, err := s.pairs.Get(req.Symbol)
	if err != nil {
		return nil, err
	}
	if pair.Status != domain.PairEnabled {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrTradingHalted, pair.Symbol, pair.Status)
	}
	if ok, reason := s.compliance.Approve(req.Owner, req.Symbol); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrComplianceRejected, reason)
	}

	if req.Quantity < pair.MinQuantity || req.Quantity > pair.MaxQuantity {
		return nil, &domain.ValidationError{Message: fmt.Sprintf(
			"quantity must be between %d and %d", pair.MinQuantity, pair.MaxQuantity)}
	}

	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return nil, &domain.ValidationError{Message: "expires_at must be a future timestamp"}
	}
	if req.TimeInForce == domain.TimeInForceDay && req.ExpiresAt == nil {
		eod := endOfDay(time.Now())
		req.ExpiresAt = &eod
	}

	return pair, nil
}

// applyPrices validates the type-specific price fields and writes them
// into the order in cents.
func (s *OrderService) applyPrices(order *domain.Order, req *SubmitOrderRequest, pair *domain.TradingPair) error {
	switch req.Type {
	case domain.OrderTypeMarket:
		if req.Price != nil {
			return &domain.ValidationError{Message: "market orders must not include price"}
		}

	case domain.OrderTypeLimit:
		if req.Price == nil {
			return &domain.ValidationError{Message: "price is required for limit orders"}
		}
		cents, err := s.validatePrice(*req.Price, pair)
		if err != nil {
			return err
		}
		if err := s.checkDeviation(cents, pair); err != nil {
			return err
		}
		order.Price = cents

	case domain.OrderTypeStopLoss, domain.OrderTypeTakeProfit:
		if req.StopPrice == nil {
			return &domain.ValidationError{Message: "stop_price is required for stop orders"}
		}
		cents, err := s.validatePrice(*req.StopPrice, pair)
		if err != nil {
			return err
		}
		order.StopPrice = cents

	case domain.OrderTypeStopLimit:
		if req.StopPrice == nil {
			return &domain.ValidationError{Message: "stop_price is required for stop orders"}
		}
		if req.LimitPrice == nil {
			return &domain.ValidationError{Message: "limit_price is required for stop_limit orders"}
		}
		stop, err := s.validatePrice(*req.StopPrice, pair)
		if err != nil {
			return err
		}
		limit, err := s.validatePrice(*req.LimitPrice, pair)
		if err != nil {
			return err
		}
		order.StopPrice = stop
		order.LimitPrice = limit

	case domain.OrderTypeTrailingStop:
		if req.TrailingOffset == nil {
			return &domain.ValidationError{Message: "trailing_offset is required for trailing_stop orders"}
		}
		offset, err := domain.DollarsToCents(*req.TrailingOffset)
		if err != nil || offset <= 0 {
			return &domain.ValidationError{Message: "trailing_offset must be a positive amount with at most 2 decimal places"}
		}
		order.TrailingOffset = offset
		if req.StopPrice != nil {
			cents, err := s.validatePrice(*req.StopPrice, pair)
			if err != nil {
				return err
			}
			order.StopPrice = cents
		}
	}
	return nil
}

// validatePrice converts a dollar price to cents and checks positivity,
// precision, tick alignment, and the pair's price bounds.
func (s *OrderService) validatePrice(price float64, pair *domain.TradingPair) (int64, error) {
	if price <= 0 {
		return 0, &domain.ValidationError{Message: "price must be greater than 0"}
	}
	cents, err := domain.DollarsToCents(price)
	if err != nil {
		return 0, &domain.ValidationError{Message: "price must have at most 2 decimal places"}
	}
	if cents%pair.TickSize != 0 {
		return 0, &domain.ValidationError{Message: fmt.Sprintf(
			"price must be a multiple of the tick size (%d cents)", pair.TickSize)}
	}
	if cents < pair.MinPrice || (pair.MaxPrice > 0 && cents > pair.MaxPrice) {
		return 0, &domain.ValidationError{Message: fmt.Sprintf(
			"price must be between %d and %d cents", pair.MinPrice, pair.MaxPrice)}
	}
	return cents, nil
}

// checkDeviation rejects limit prices that stray beyond the configured
// fraction of the last traded price. With no trade history there is
// nothing to deviate from.
func (s *OrderService) checkDeviation(cents int64, pair *domain.TradingPair) error {
	if pair.MaxPriceDeviation.IsZero() {
		return nil
	}
	last, ok := s.trades.LastPrice(pair.Symbol)
	if !ok || last == 0 {
		return nil
	}
	diff := cents - last
	if diff < 0 {
		diff = -diff
	}
	deviation := decimal.NewFromInt(diff).Div(decimal.NewFromInt(last))
	if deviation.GreaterThan(pair.MaxPriceDeviation) {
		return &domain.ValidationError{Message: fmt.Sprintf(
			"price deviates more than %s%% from the last traded price",
			pair.MaxPriceDeviation.Mul(decimal.NewFromInt(100)))}
	}
	return nil
}

// estimateFees projects the taker fee for the order: limit orders on
// their own notional, market orders on the last traded price when one
// exists.
func (s *OrderService) estimateFees(order *domain.Order, pair *domain.TradingPair) int64 {
	price := order.Price
	if price == 0 {
		if last, ok := s.trades.LastPrice(order.Symbol); ok {
			price = last
		}
	}
	if order.StopPrice > 0 && price == 0 {
		price = order.StopPrice
	}
	return s.fees.Fee(price*order.Quantity, pair.TakerFeeRate)
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

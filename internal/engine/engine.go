package engine

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/exchange-api/internal/types"
)

// bookDepth is the number of levels returned per side of an order book
// snapshot.
const bookDepth = 20

// Store is the persistence contract the engine matches against. Failures
// propagate to the caller unchanged; the engine performs no retries and no
// compensating rollback, so trades committed before a failed update stay
// committed.
type Store interface {
	// FindActiveBySymbol returns PENDING and PARTIALLY_FILLED orders for a
	// symbol, both sides, sorted by price-time priority (PriceTimeLess).
	FindActiveBySymbol(symbol string) ([]types.Order, error)

	// GetOrder returns the order with the given id, or nil with a nil error
	// when the id does not exist.
	GetOrder(orderID string) (*types.Order, error)

	// UpdateOrderStatus atomically sets the order's status, and its filled
	// quantity when filledQuantity is non-nil, returning the post-update
	// record. A nil order with a nil error means the id does not exist.
	UpdateOrderStatus(orderID, status string, filledQuantity *float64) (*types.Order, error)

	// CreateTrade persists a new trade with a generated id and timestamp.
	CreateTrade(buyOrderID, sellOrderID, symbol string, quantity, price float64) (*types.Trade, error)
}

// Engine matches incoming orders against resting orders held in the store.
// All processing for a given symbol is serialized through a per-symbol
// mutex, so two submissions can never both consume the same resting
// quantity.
type Engine struct {
	store Store

	mu      sync.Mutex
	symbols map[string]*sync.Mutex
}

// New creates a matching engine on top of the given order/trade store.
func New(store Store) *Engine {
	return &Engine{
		store:   store,
		symbols: make(map[string]*sync.Mutex),
	}
}

// symbolLock returns the mutex serializing all matching for a symbol.
func (e *Engine) symbolLock(symbol string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.symbols[symbol]
	if !ok {
		lock = &sync.Mutex{}
		e.symbols[symbol] = lock
	}
	return lock
}

// ProcessOrder runs a submitted order through the matching engine and
// returns the resulting order state plus any trades produced. The order is
// expected to already be persisted as PENDING.
func (e *Engine) ProcessOrder(order *types.Order) (*types.Order, []types.Trade, error) {
	logger := log.With().
		Str("order_id", order.OrderID).
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Str("order_type", order.OrderType).
		Float64("quantity", order.Quantity).
		Logger()

	logger.Info().Msg("processing order")

	if err := validateOrder(order); err != nil {
		logger.Warn().Err(err).Msg("order failed validation")
		return nil, nil, err
	}

	switch order.OrderType {
	case types.TypeMarket, types.TypeLimit:
	case types.TypeStop, types.TypeStopLimit:
		// Accepted as-is: there is no price feed in this service, so stop
		// triggering is not implemented.
		logger.Info().Msg("stop order accepted without matching")
		return order, []types.Trade{}, nil
	default:
		return nil, nil, &UnsupportedOrderTypeError{OrderType: order.OrderType}
	}

	lock := e.symbolLock(order.Symbol)
	lock.Lock()
	defer lock.Unlock()

	if order.OrderType == types.TypeMarket {
		return e.processMarketOrder(order, logger)
	}
	return e.processLimitOrder(order, logger)
}

// CancelOrder transitions an order to CANCELLED under the same per-symbol
// lock that serializes matching, so a cancel can never interleave with a
// fill for the order's symbol. The status checks run inside the lock: an
// order filled by an in-flight match is reported as filled, not cancelled.
func (e *Engine) CancelOrder(symbol, orderID string) (*types.Order, error) {
	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	order, err := e.store.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status == types.StatusFilled {
		return nil, ErrCancelFilled
	}
	if order.Status == types.StatusCancelled {
		return nil, ErrAlreadyCancelled
	}

	cancelled, err := e.store.UpdateOrderStatus(orderID, types.StatusCancelled, nil)
	if err != nil {
		return nil, err
	}
	if cancelled == nil {
		return nil, ErrOrderNotFound
	}

	log.Info().
		Str("order_id", orderID).
		Str("symbol", symbol).
		Str("previous_status", order.Status).
		Msg("order cancelled")

	return cancelled, nil
}

// processMarketOrder fills an order against the best available resting
// orders of any type, at each resting order's price. A market order that
// produces no trades is rejected.
func (e *Engine) processMarketOrder(order *types.Order, logger zerolog.Logger) (*types.Order, []types.Trade, error) {
	trades := []types.Trade{}
	remaining := order.Quantity

	candidates, err := e.matchingOrders(order.Symbol, oppositeSide(order.Side), order.OrderType)
	if err != nil {
		return nil, nil, err
	}

	for i := range candidates {
		if remaining <= 0 {
			break
		}
		match := &candidates[i]

		matchQty := math.Min(remaining, match.Quantity-match.FilledQuantity)
		matchPrice := match.PriceValue() // market orders trade at the resting order's price

		if matchQty > 0 {
			trade, err := e.executeTrade(order, match, matchQty, matchPrice)
			if err != nil {
				return nil, nil, err
			}
			trades = append(trades, *trade)
			remaining -= matchQty
		}
	}

	updated := order
	switch {
	case remaining == 0:
		updated, err = e.updateOrder(order, types.StatusFilled, ptr(order.Quantity))
	case len(trades) > 0:
		updated, err = e.updateOrder(order, types.StatusPartiallyFilled, ptr(order.Quantity-remaining))
	default:
		updated, err = e.updateOrder(order, types.StatusRejected, nil)
		logger.Warn().Msg("market order rejected, no matching orders found")
	}
	if err != nil {
		return nil, nil, err
	}

	return updated, trades, nil
}

// processLimitOrder fills an order against resting LIMIT orders whose price
// crosses the incoming limit. An unmatched limit order simply rests in the
// book as PENDING.
func (e *Engine) processLimitOrder(order *types.Order, logger zerolog.Logger) (*types.Order, []types.Trade, error) {
	trades := []types.Trade{}
	remaining := order.Quantity
	limitPrice := *order.Price

	candidates, err := e.matchingOrders(order.Symbol, oppositeSide(order.Side), order.OrderType)
	if err != nil {
		return nil, nil, err
	}

	for i := range candidates {
		if remaining <= 0 {
			break
		}
		match := &candidates[i]
		if match.Price == nil {
			continue
		}

		canMatch := false
		if order.Side == types.SideBuy {
			canMatch = *match.Price <= limitPrice
		} else {
			canMatch = *match.Price >= limitPrice
		}
		if !canMatch {
			continue
		}

		matchQty := math.Min(remaining, match.Quantity-match.FilledQuantity)
		matchPrice := determineTradePrice(order, match)

		if matchQty > 0 {
			trade, err := e.executeTrade(order, match, matchQty, matchPrice)
			if err != nil {
				return nil, nil, err
			}
			trades = append(trades, *trade)
			remaining -= matchQty
		}
	}

	updated := order
	switch {
	case remaining == 0:
		updated, err = e.updateOrder(order, types.StatusFilled, ptr(order.Quantity))
	case len(trades) > 0:
		updated, err = e.updateOrder(order, types.StatusPartiallyFilled, ptr(order.Quantity-remaining))
	default:
		// No matches: the order was already persisted as PENDING, nothing
		// to update.
		logger.Info().Msg("limit order added to order book, no immediate matches")
	}
	if err != nil {
		return nil, nil, err
	}

	return updated, trades, nil
}

// matchingOrders returns active resting orders eligible to match an incoming
// order: the opposite side, the same symbol, and LIMIT-only unless the
// incoming order is a MARKET order. The store returns candidates already in
// priority order.
func (e *Engine) matchingOrders(symbol, side, incomingType string) ([]types.Order, error) {
	orders, err := e.store.FindActiveBySymbol(symbol)
	if err != nil {
		return nil, err
	}

	var matches []types.Order
	for _, o := range orders {
		if o.Side != side || !o.IsActive() {
			continue
		}
		if incomingType != types.TypeMarket && o.OrderType != types.TypeLimit {
			continue
		}
		matches = append(matches, o)
	}
	return matches, nil
}

// executeTrade persists a trade between the two orders and applies the fill
// to both sides. Which order bought and which sold is decided by side, not
// by argument position.
func (e *Engine) executeTrade(a, b *types.Order, quantity, price float64) (*types.Trade, error) {
	buyOrder, sellOrder := a, b
	if a.Side == types.SideSell {
		buyOrder, sellOrder = b, a
	}

	log.Info().
		Str("buy_order_id", buyOrder.OrderID).
		Str("sell_order_id", sellOrder.OrderID).
		Str("symbol", a.Symbol).
		Float64("quantity", quantity).
		Float64("price", price).
		Msg("executing trade")

	trade, err := e.store.CreateTrade(buyOrder.OrderID, sellOrder.OrderID, a.Symbol, quantity, price)
	if err != nil {
		return nil, err
	}

	if err := e.applyFill(buyOrder, quantity); err != nil {
		return nil, err
	}
	if err := e.applyFill(sellOrder, quantity); err != nil {
		return nil, err
	}

	return trade, nil
}

// applyFill pushes one fill through the lifecycle transition and persists
// the result, refreshing the in-memory order from the store so later fills
// in the same matching loop see the accumulated quantity.
func (e *Engine) applyFill(order *types.Order, quantity float64) error {
	status, filled := ApplyFill(order.FilledQuantity, order.Quantity, quantity)

	updated, err := e.store.UpdateOrderStatus(order.OrderID, status, &filled)
	if err != nil {
		return err
	}
	if updated != nil {
		*order = *updated
	} else {
		order.Status = status
		order.FilledQuantity = filled
	}
	return nil
}

// updateOrder issues a final status update for the incoming order, falling
// back to the in-memory record if the store no longer knows the id.
func (e *Engine) updateOrder(order *types.Order, status string, filledQuantity *float64) (*types.Order, error) {
	updated, err := e.store.UpdateOrderStatus(order.OrderID, status, filledQuantity)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return order, nil
	}
	return updated, nil
}

// determineTradePrice resolves the execution price of a LIMIT-LIMIT match:
// the earlier-created order sets the price, its counterpart's price is the
// fallback.
func determineTradePrice(a, b *types.Order) float64 {
	first, second := a, b
	if !a.CreatedAt.Before(b.CreatedAt) {
		first, second = b, a
	}
	if first.Price != nil {
		return *first.Price
	}
	if second.Price != nil {
		return *second.Price
	}
	return 0
}

// validateOrder applies the pre-dispatch checks. Failures abort processing
// before any store mutation.
func validateOrder(order *types.Order) error {
	if order.Quantity <= 0 {
		return &ValidationError{Message: "quantity must be greater than 0"}
	}
	if order.OrderType == types.TypeLimit && order.Price == nil {
		return &ValidationError{Message: "LIMIT orders must have a price"}
	}
	if order.OrderType == types.TypeStop && order.StopPrice == nil {
		return &ValidationError{Message: "STOP orders must have a stop price"}
	}
	if order.OrderType == types.TypeStopLimit && (order.StopPrice == nil || order.Price == nil) {
		return &ValidationError{Message: "STOP_LIMIT orders must have both a stop price and a limit price"}
	}
	return nil
}

// GetOrderBook builds a snapshot of the book for a symbol: non-FILLED buys
// by descending price, non-FILLED sells by ascending price, top 20 each.
func (e *Engine) GetOrderBook(symbol string) (*types.OrderBook, error) {
	orders, err := e.store.FindActiveBySymbol(symbol)
	if err != nil {
		return nil, err
	}

	bids := []types.Order{}
	asks := []types.Order{}
	for _, o := range orders {
		if o.Status == types.StatusFilled {
			continue
		}
		switch o.Side {
		case types.SideBuy:
			bids = append(bids, o)
		case types.SideSell:
			asks = append(asks, o)
		}
	}

	sort.SliceStable(bids, func(i, j int) bool {
		return bids[i].PriceValue() > bids[j].PriceValue()
	})
	sort.SliceStable(asks, func(i, j int) bool {
		return asks[i].PriceValue() < asks[j].PriceValue()
	})

	if len(bids) > bookDepth {
		bids = bids[:bookDepth]
	}
	if len(asks) > bookDepth {
		asks = asks[:bookDepth]
	}

	return &types.OrderBook{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now(),
	}, nil
}

func oppositeSide(side string) string {
	if side == types.SideBuy {
		return types.SideSell
	}
	return types.SideBuy
}

func ptr(v float64) *float64 {
	return &v
}

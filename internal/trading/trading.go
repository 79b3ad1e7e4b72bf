package trading

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/exchange-api/internal/auth"
	"github.com/ksred/exchange-api/internal/engine"
	"github.com/ksred/exchange-api/internal/types"
	"github.com/ksred/exchange-api/pkg/response"
)

// Cancellation failures originate in the engine, which owns the symbol lock
// the checks run under.
var (
	ErrOrderNotFound    = engine.ErrOrderNotFound
	ErrCancelFilled     = engine.ErrCancelFilled
	ErrAlreadyCancelled = engine.ErrAlreadyCancelled
)

// Service handles order submission, matching, and order lifecycle queries
type Service struct {
	db     *Database
	engine *engine.Engine
}

// NewService creates a new trading service backed by the given database
// connection. The matching engine runs directly against the service's store.
func NewService(gormDB *gorm.DB) *Service {
	db := NewDatabase(gormDB)
	return &Service{
		db:     db,
		engine: engine.New(db),
	}
}

// PlaceOrder persists a new PENDING order and runs it through the matching
// engine, with idempotency support: resubmitting the same key returns the
// originally created order and its trades instead of creating a duplicate.
func (s *Service) PlaceOrder(req *CreateOrderRequest, userID, idempotencyKey string) (*PlaceOrderResult, error) {
	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err == nil && record != nil && record.ResourceID != "" && record.ExpiresAt.After(time.Now()) {
		existing, err := s.db.GetOrder(record.ResourceID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrOrderNotFound
		}
		trades, err := s.db.GetTradesByOrderID(existing.OrderID)
		if err != nil {
			return nil, err
		}
		return &PlaceOrderResult{Order: existing, Trades: trades}, nil
	}

	now := time.Now()
	order := &types.Order{
		OrderID:        uuid.New().String(),
		UserID:         userID,
		Symbol:         strings.ToUpper(req.Symbol),
		Side:           req.Side,
		OrderType:      req.OrderType,
		Quantity:       req.Quantity,
		Price:          req.Price,
		StopPrice:      req.StopPrice,
		FilledQuantity: 0,
		Status:         types.StatusPending,
		TimeInForce:    req.TimeInForce,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if order.TimeInForce == "" {
		order.TimeInForce = types.TimeInForceGTC
	}

	if err := s.db.CreateOrderWithIdempotency(order, idempotencyKey); err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("user_id", order.UserID).
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Str("order_type", order.OrderType).
		Msg("order created")

	updated, trades, err := s.engine.ProcessOrder(order)
	if err != nil {
		return nil, err
	}

	return &PlaceOrderResult{Order: updated, Trades: trades}, nil
}

// GetOrder retrieves an order by its ID
func (s *Service) GetOrder(orderID string) (*types.Order, error) {
	return s.db.GetOrder(orderID)
}

// GetOrderByOrderIDAndUserID retrieves an order scoped to its owner
func (s *Service) GetOrderByOrderIDAndUserID(orderID, userID string) (*types.Order, error) {
	return s.db.GetOrderByOrderIDAndUserID(orderID, userID)
}

// GetUserOrders retrieves a user's orders, newest first
func (s *Service) GetUserOrders(userID string) ([]types.Order, error) {
	return s.db.GetOrdersByUserID(userID)
}

// GetPendingOrders retrieves resting orders, optionally for one symbol
func (s *Service) GetPendingOrders(symbol string) ([]types.Order, error) {
	return s.db.GetPendingOrders(strings.ToUpper(symbol))
}

// CancelOrder transitions an order to CANCELLED. Filled and already
// cancelled orders are rejected. The cancellation itself runs through the
// engine so it holds the order's symbol lock and cannot race a fill.
func (s *Service) CancelOrder(orderID string) (*types.Order, error) {
	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	return s.engine.CancelOrder(order.Symbol, orderID)
}

// GetOrderBook builds the current book snapshot for a symbol
func (s *Service) GetOrderBook(symbol string) (*types.OrderBook, error) {
	return s.engine.GetOrderBook(strings.ToUpper(symbol))
}

// GetDB exposes the database layer for background processors
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for trading endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for trading endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to submit new orders
// Requires a valid JWT token and idempotency key in headers
// The response carries the order's resulting state and any trades produced
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		userID := req.UserID
		if userID == "" {
			claims, _ := c.Get("claims")
			userID = auth.GetClientID(claims)
		}
		if userID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		result, err := h.service.PlaceOrder(&req, userID, idempotencyKey)
		response.Handle(c, result, err)
	}
}

// GetOrderHandler handles GET requests for a single order, scoped to the
// authenticated client
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		userID := auth.GetClientID(claims)
		if userID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.GetOrderByOrderIDAndUserID(orderID, userID)
		if err != nil || order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, order)
	}
}

// GetUserOrdersHandler handles GET requests for all of a user's orders
func (h *GinHandlers) GetUserOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		if userID == "" {
			response.BadRequest(c, "User ID is required")
			return
		}

		orders, err := h.service.GetUserOrders(userID)
		response.Handle(c, gin.H{"orders": orders, "count": len(orders)}, err)
	}
}

// GetPendingOrdersHandler handles GET requests for resting orders
// Optional query parameter: symbol
func (h *GinHandlers) GetPendingOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Query("symbol")

		orders, err := h.service.GetPendingOrders(symbol)
		response.Handle(c, gin.H{"orders": orders, "count": len(orders)}, err)
	}
}

// CancelOrderHandler handles DELETE requests to cancel an order
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		order, err := h.service.CancelOrder(orderID)
		switch {
		case errors.Is(err, ErrOrderNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrCancelFilled), errors.Is(err, ErrAlreadyCancelled):
			response.BadRequest(c, err.Error())
		default:
			response.Handle(c, order, err)
		}
	}
}

// GetOrderBookHandler handles GET requests for a symbol's book snapshot
func (h *GinHandlers) GetOrderBookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		if symbol == "" {
			response.BadRequest(c, "Symbol is required")
			return
		}

		book, err := h.service.GetOrderBook(symbol)
		response.Handle(c, book, err)
	}
}

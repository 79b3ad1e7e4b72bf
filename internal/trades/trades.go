package trades

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ksred/exchange-api/internal/types"
	"github.com/ksred/exchange-api/pkg/response"
)

// defaultLimit caps trade listings when the caller does not ask for a
// specific page size.
const defaultLimit = 100

// Service handles read access to executed trades
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// GetRecentTrades returns the most recent trades across all symbols
func (s *Service) GetRecentTrades(limit int) ([]types.Trade, error) {
	return s.db.GetRecentTrades(normalizeLimit(limit))
}

// GetTradesBySymbol returns the most recent trades for one symbol
func (s *Service) GetTradesBySymbol(symbol string, limit int) ([]types.Trade, error) {
	return s.db.GetTradesBySymbol(strings.ToUpper(symbol), normalizeLimit(limit))
}

// GetTradesByOrderID returns all trades an order took part in, buyer or
// seller side
func (s *Service) GetTradesByOrderID(orderID string) ([]types.Trade, error) {
	return s.db.GetTradesByOrderID(orderID)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}

// GinHandlers contains HTTP handlers for trade query endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetRecentTradesHandler handles GET requests for recent trades
// Optional query parameter: limit (default 100)
func (h *GinHandlers) GetRecentTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseLimit(c.Query("limit"))

		trades, err := h.service.GetRecentTrades(limit)
		response.Handle(c, gin.H{"trades": trades, "count": len(trades)}, err)
	}
}

// GetTradesBySymbolHandler handles GET requests for a symbol's trades
func (h *GinHandlers) GetTradesBySymbolHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := strings.ToUpper(c.Param("symbol"))
		limit := parseLimit(c.Query("limit"))

		trades, err := h.service.GetTradesBySymbol(symbol, limit)
		response.Handle(c, gin.H{"symbol": symbol, "trades": trades, "count": len(trades)}, err)
	}
}

// GetTradesByOrderHandler handles GET requests for an order's trades
func (h *GinHandlers) GetTradesByOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		trades, err := h.service.GetTradesByOrderID(orderID)
		response.Handle(c, gin.H{"trades": trades, "count": len(trades)}, err)
	}
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return defaultLimit
	}
	return limit
}

package trading

import (
	"time"

	"gorm.io/gorm"

	"github.com/ksred/exchange-api/internal/types"
)

// CreateOrderRequest is the payload for order submission. Side and type are
// validated at the boundary; the engine re-checks the numeric and
// price-presence rules before matching.
type CreateOrderRequest struct {
	UserID      string   `json:"user_id"`
	Symbol      string   `json:"symbol" binding:"required"`
	Side        string   `json:"side" binding:"required,oneof=BUY SELL"`
	OrderType   string   `json:"order_type" binding:"required,oneof=MARKET LIMIT STOP STOP_LIMIT"`
	Quantity    float64  `json:"quantity" binding:"required"`
	Price       *float64 `json:"price"`
	StopPrice   *float64 `json:"stop_price"`
	TimeInForce string   `json:"time_in_force" binding:"omitempty,oneof=GTC IOC FOK"`
}

// PlaceOrderResult is what a submission returns: the order's final state for
// this pass through the engine plus the trades it produced.
type PlaceOrderResult struct {
	Order  *types.Order  `json:"order"`
	Trades []types.Trade `json:"trades"`
}

type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}

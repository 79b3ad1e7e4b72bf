package types

import (
	"time"

	"gorm.io/gorm"
)

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order types
const (
	TypeMarket    = "MARKET"
	TypeLimit     = "LIMIT"
	TypeStop      = "STOP"
	TypeStopLimit = "STOP_LIMIT"
)

// Order statuses
const (
	StatusPending         = "PENDING"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCancelled       = "CANCELLED"
	StatusRejected        = "REJECTED"
)

// Time-in-force values. Stored with the order but not enforced by the
// matching engine.
const (
	TimeInForceGTC = "GTC"
	TimeInForceIOC = "IOC"
	TimeInForceFOK = "FOK"
)

type Order struct {
	gorm.Model     `json:"-"`
	OrderID        string    `gorm:"uniqueIndex" json:"order_id"`
	UserID         string    `json:"user_id"`
	Symbol         string    `gorm:"index" json:"symbol"`
	Side           string    `json:"side"`       // BUY or SELL
	OrderType      string    `json:"order_type"` // MARKET, LIMIT, STOP, STOP_LIMIT
	Quantity       float64   `json:"quantity"`
	Price          *float64  `json:"price,omitempty"`      // required for LIMIT and STOP_LIMIT
	StopPrice      *float64  `json:"stop_price,omitempty"` // required for STOP and STOP_LIMIT
	FilledQuantity float64   `json:"filled_quantity"`
	Status         string    `gorm:"index" json:"status"`
	TimeInForce    string    `json:"time_in_force"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PriceValue returns the order's limit price, treating an absent price as 0.
func (o *Order) PriceValue() float64 {
	if o.Price == nil {
		return 0
	}
	return *o.Price
}

// IsActive reports whether the order is still eligible to match.
func (o *Order) IsActive() bool {
	return o.Status == StatusPending || o.Status == StatusPartiallyFilled
}

// Trade is an immutable execution record between a buy and a sell order.
type Trade struct {
	gorm.Model  `json:"-"`
	TradeID     string    `gorm:"uniqueIndex" json:"trade_id"`
	BuyOrderID  string    `gorm:"index" json:"buy_order_id"`
	SellOrderID string    `gorm:"index" json:"sell_order_id"`
	Symbol      string    `gorm:"index" json:"symbol"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Timestamp   time.Time `json:"timestamp"`
}

// OrderBook is a transient snapshot of resting interest for a symbol.
// Bids are sorted by descending price, asks by ascending price, each
// truncated to the top 20 entries.
type OrderBook struct {
	Symbol    string    `json:"symbol"`
	Bids      []Order   `json:"bids"`
	Asks      []Order   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

package trading

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ksred/exchange-api/internal/engine"
	"github.com/ksred/exchange-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderByOrderIDAndUserID(orderID, userID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ? AND user_id = ?", orderID, userID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrdersByUserID(userID string) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// GetPendingOrders returns resting orders oldest first, optionally scoped to
// a symbol.
func (d *Database) GetPendingOrders(symbol string) ([]types.Order, error) {
	query := d.db.Where("status IN ?", []string{types.StatusPending, types.StatusPartiallyFilled})
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}

	var orders []types.Order
	if err := query.Order("created_at ASC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// FindActiveBySymbol implements engine.Store. Candidates come back sorted by
// price-time priority, which the engine relies on.
func (d *Database) FindActiveBySymbol(symbol string) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.Where("symbol = ? AND status IN ?",
		symbol, []string{types.StatusPending, types.StatusPartiallyFilled}).
		Find(&orders).Error; err != nil {
		return nil, err
	}

	engine.SortByPriority(orders)
	return orders, nil
}

// UpdateOrderStatus implements engine.Store. A nil filledQuantity leaves the
// stored fill untouched; an unknown id returns (nil, nil).
func (d *Database) UpdateOrderStatus(orderID, status string, filledQuantity *float64) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	order.Status = status
	if filledQuantity != nil {
		order.FilledQuantity = *filledQuantity
	}
	order.UpdatedAt = time.Now()

	if err := d.db.Save(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateTrade implements engine.Store.
func (d *Database) CreateTrade(buyOrderID, sellOrderID, symbol string, quantity, price float64) (*types.Trade, error) {
	trade := &types.Trade{
		TradeID:     uuid.New().String(),
		BuyOrderID:  buyOrderID,
		SellOrderID: sellOrderID,
		Symbol:      symbol,
		Quantity:    quantity,
		Price:       price,
		Timestamp:   time.Now(),
	}

	if err := d.db.Create(trade).Error; err != nil {
		return nil, err
	}
	return trade, nil
}

func (d *Database) GetTradesByOrderID(orderID string) ([]types.Trade, error) {
	var trades []types.Trade
	if err := d.db.Where("buy_order_id = ? OR sell_order_id = ?", orderID, orderID).
		Order("timestamp DESC").
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// CreateOrderWithIdempotency creates a new order and idempotency record in a
// transaction
func (d *Database) CreateOrderWithIdempotency(order *types.Order, idempotencyKey string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(order).Error; err != nil {
		tx.Rollback()
		return err
	}

	record := IdempotencyRecord{
		IdempotencyKey: idempotencyKey,
		ResourceID:     order.OrderID,
		ResourceType:   "order",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}

	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// GetIdempotencyRecord retrieves an idempotency record by key
func (d *Database) GetIdempotencyRecord(key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &record, nil
		}
		return nil, err
	}
	return &record, nil
}

// DeleteExpiredIdempotencyRecords removes records past their expiry and
// returns how many were deleted.
func (d *Database) DeleteExpiredIdempotencyRecords(now time.Time) (int64, error) {
	result := d.db.Unscoped().Where("expires_at < ?", now).Delete(&IdempotencyRecord{})
	return result.RowsAffected, result.Error
}

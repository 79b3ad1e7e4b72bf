package trades

import (
	"gorm.io/gorm"

	"github.com/ksred/exchange-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetRecentTrades(limit int) ([]types.Trade, error) {
	var trades []types.Trade
	if err := d.db.Order("timestamp DESC").Limit(limit).Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

func (d *Database) GetTradesBySymbol(symbol string, limit int) ([]types.Trade, error) {
	var trades []types.Trade
	if err := d.db.Where("symbol = ?", symbol).
		Order("timestamp DESC").
		Limit(limit).
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
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

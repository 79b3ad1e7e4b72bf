package migrations

import (
	"github.com/ksred/exchange-api/internal/types"
	"gorm.io/gorm"
)

func AddTrades(db *gorm.DB) error {
	// Create the trades table with its order ID indexes
	if err := db.AutoMigrate(&types.Trade{}); err != nil {
		return err
	}

	return nil
}

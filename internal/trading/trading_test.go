package trading

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/exchange-api/internal/types"
)

// setupTestDB opens an isolated in-memory database per test. The named
// shared-cache DSN keeps the database alive across gorm's pooled
// connections.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(&types.Order{}, &types.Trade{}, &IdempotencyRecord{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

func limitRequest(symbol, side string, quantity, price float64) *CreateOrderRequest {
	return &CreateOrderRequest{
		Symbol:    symbol,
		Side:      side,
		OrderType: types.TypeLimit,
		Quantity:  quantity,
		Price:     &price,
	}
}

func TestPlaceOrderMatchesRestingOrder(t *testing.T) {
	service := NewService(setupTestDB(t))

	sell, err := service.PlaceOrder(limitRequest("BTCUSD", types.SideSell, 2, 50000), "alice", "key-sell")
	if err != nil {
		t.Fatalf("PlaceOrder(sell) error: %v", err)
	}
	if sell.Order.Status != types.StatusPending {
		t.Fatalf("resting sell status = %q, want PENDING", sell.Order.Status)
	}
	if len(sell.Trades) != 0 {
		t.Fatalf("resting sell produced %d trades, want 0", len(sell.Trades))
	}

	buy, err := service.PlaceOrder(limitRequest("BTCUSD", types.SideBuy, 2, 50000), "bob", "key-buy")
	if err != nil {
		t.Fatalf("PlaceOrder(buy) error: %v", err)
	}
	if buy.Order.Status != types.StatusFilled {
		t.Errorf("buy status = %q, want FILLED", buy.Order.Status)
	}
	if buy.Order.FilledQuantity != 2 {
		t.Errorf("buy filled quantity = %v, want 2", buy.Order.FilledQuantity)
	}
	if len(buy.Trades) != 1 {
		t.Fatalf("buy produced %d trades, want 1", len(buy.Trades))
	}

	trade := buy.Trades[0]
	if trade.BuyOrderID != buy.Order.OrderID || trade.SellOrderID != sell.Order.OrderID {
		t.Errorf("trade order ids = (%s, %s), want (%s, %s)",
			trade.BuyOrderID, trade.SellOrderID, buy.Order.OrderID, sell.Order.OrderID)
	}
	if trade.Price != 50000 || trade.Quantity != 2 {
		t.Errorf("trade = %v @ %v, want 2 @ 50000", trade.Quantity, trade.Price)
	}

	// The resting side must be persisted as filled too
	stored, err := service.GetOrder(sell.Order.OrderID)
	if err != nil {
		t.Fatalf("GetOrder error: %v", err)
	}
	if stored.Status != types.StatusFilled || stored.FilledQuantity != 2 {
		t.Errorf("stored sell = %q filled %v, want FILLED filled 2",
			stored.Status, stored.FilledQuantity)
	}
}

func TestPlaceOrderMarketRejectedOnEmptyBook(t *testing.T) {
	service := NewService(setupTestDB(t))

	result, err := service.PlaceOrder(&CreateOrderRequest{
		Symbol:    "BTCUSD",
		Side:      types.SideBuy,
		OrderType: types.TypeMarket,
		Quantity:  1,
	}, "alice", "key-market")
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}

	if result.Order.Status != types.StatusRejected {
		t.Errorf("status = %q, want REJECTED", result.Order.Status)
	}
	if len(result.Trades) != 0 {
		t.Errorf("got %d trades, want 0", len(result.Trades))
	}
}

func TestPlaceOrderIdempotentReplay(t *testing.T) {
	service := NewService(setupTestDB(t))

	first, err := service.PlaceOrder(limitRequest("BTCUSD", types.SideBuy, 1, 50000), "alice", "same-key")
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}

	replay, err := service.PlaceOrder(limitRequest("BTCUSD", types.SideBuy, 1, 50000), "alice", "same-key")
	if err != nil {
		t.Fatalf("PlaceOrder replay error: %v", err)
	}

	if replay.Order.OrderID != first.Order.OrderID {
		t.Errorf("replay order id = %s, want %s", replay.Order.OrderID, first.Order.OrderID)
	}

	orders, err := service.GetUserOrders("alice")
	if err != nil {
		t.Fatalf("GetUserOrders error: %v", err)
	}
	if len(orders) != 1 {
		t.Errorf("got %d orders after replay, want 1", len(orders))
	}
}

func TestCancelOrder(t *testing.T) {
	service := NewService(setupTestDB(t))

	placed, err := service.PlaceOrder(limitRequest("BTCUSD", types.SideBuy, 1, 50000), "alice", "key-cancel")
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}

	cancelled, err := service.CancelOrder(placed.Order.OrderID)
	if err != nil {
		t.Fatalf("CancelOrder error: %v", err)
	}
	if cancelled.Status != types.StatusCancelled {
		t.Errorf("status = %q, want CANCELLED", cancelled.Status)
	}

	if _, err := service.CancelOrder(placed.Order.OrderID); !errors.Is(err, ErrAlreadyCancelled) {
		t.Errorf("second cancel error = %v, want ErrAlreadyCancelled", err)
	}

	if _, err := service.CancelOrder("no-such-order"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("unknown order error = %v, want ErrOrderNotFound", err)
	}
}

func TestCancelFilledOrderRejected(t *testing.T) {
	service := NewService(setupTestDB(t))

	sell, err := service.PlaceOrder(limitRequest("BTCUSD", types.SideSell, 1, 50000), "alice", "key-1")
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}
	if _, err := service.PlaceOrder(limitRequest("BTCUSD", types.SideBuy, 1, 50000), "bob", "key-2"); err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}

	if _, err := service.CancelOrder(sell.Order.OrderID); !errors.Is(err, ErrCancelFilled) {
		t.Errorf("cancel filled error = %v, want ErrCancelFilled", err)
	}
}

func TestCancelledOrderDoesNotMatch(t *testing.T) {
	service := NewService(setupTestDB(t))

	sell, err := service.PlaceOrder(limitRequest("BTCUSD", types.SideSell, 1, 50000), "alice", "key-1")
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}
	if _, err := service.CancelOrder(sell.Order.OrderID); err != nil {
		t.Fatalf("CancelOrder error: %v", err)
	}

	buy, err := service.PlaceOrder(limitRequest("BTCUSD", types.SideBuy, 1, 50000), "bob", "key-2")
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}
	if buy.Order.Status != types.StatusPending {
		t.Errorf("buy status = %q, want PENDING", buy.Order.Status)
	}
	if len(buy.Trades) != 0 {
		t.Errorf("got %d trades against a cancelled order, want 0", len(buy.Trades))
	}
}

func TestFindActiveBySymbolPriorityOrder(t *testing.T) {
	db := NewDatabase(setupTestDB(t))

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	price := func(v float64) *float64 { return &v }

	seed := []types.Order{
		{OrderID: "sell-late", Symbol: "BTCUSD", Side: types.SideSell, OrderType: types.TypeLimit,
			Quantity: 1, Price: price(51000), Status: types.StatusPending, CreatedAt: base.Add(2 * time.Second)},
		{OrderID: "buy-low", Symbol: "BTCUSD", Side: types.SideBuy, OrderType: types.TypeLimit,
			Quantity: 1, Price: price(49000), Status: types.StatusPending, CreatedAt: base},
		{OrderID: "buy-high", Symbol: "BTCUSD", Side: types.SideBuy, OrderType: types.TypeLimit,
			Quantity: 1, Price: price(50000), Status: types.StatusPartiallyFilled, CreatedAt: base.Add(time.Second)},
		{OrderID: "sell-early", Symbol: "BTCUSD", Side: types.SideSell, OrderType: types.TypeLimit,
			Quantity: 1, Price: price(51000), Status: types.StatusPending, CreatedAt: base},
		{OrderID: "filled", Symbol: "BTCUSD", Side: types.SideSell, OrderType: types.TypeLimit,
			Quantity: 1, Price: price(48000), Status: types.StatusFilled, CreatedAt: base},
		{OrderID: "other-symbol", Symbol: "ETHUSD", Side: types.SideBuy, OrderType: types.TypeLimit,
			Quantity: 1, Price: price(3000), Status: types.StatusPending, CreatedAt: base},
	}
	for i := range seed {
		if err := db.CreateOrder(&seed[i]); err != nil {
			t.Fatalf("CreateOrder(%s) error: %v", seed[i].OrderID, err)
		}
	}

	orders, err := db.FindActiveBySymbol("BTCUSD")
	if err != nil {
		t.Fatalf("FindActiveBySymbol error: %v", err)
	}

	var got []string
	for _, o := range orders {
		got = append(got, o.OrderID)
	}
	want := []string{"buy-high", "buy-low", "sell-early", "sell-late"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestUpdateOrderStatusUnknownOrder(t *testing.T) {
	db := NewDatabase(setupTestDB(t))

	order, err := db.UpdateOrderStatus("no-such-order", types.StatusFilled, nil)
	if err != nil {
		t.Fatalf("UpdateOrderStatus error: %v", err)
	}
	if order != nil {
		t.Errorf("got order %+v, want nil", order)
	}
}

func TestGetPendingOrdersFiltersBySymbol(t *testing.T) {
	service := NewService(setupTestDB(t))

	if _, err := service.PlaceOrder(limitRequest("BTCUSD", types.SideBuy, 1, 50000), "alice", "key-1"); err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}
	if _, err := service.PlaceOrder(limitRequest("ETHUSD", types.SideBuy, 1, 3000), "alice", "key-2"); err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}

	all, err := service.GetPendingOrders("")
	if err != nil {
		t.Fatalf("GetPendingOrders error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d pending orders, want 2", len(all))
	}

	btc, err := service.GetPendingOrders("btcusd")
	if err != nil {
		t.Fatalf("GetPendingOrders(btcusd) error: %v", err)
	}
	if len(btc) != 1 || btc[0].Symbol != "BTCUSD" {
		t.Errorf("got %d orders for BTCUSD, want exactly the BTCUSD order", len(btc))
	}
}

func TestDeleteExpiredIdempotencyRecords(t *testing.T) {
	db := NewDatabase(setupTestDB(t))

	records := []IdempotencyRecord{
		{IdempotencyKey: "expired", ResourceID: "a", ResourceType: "order",
			ExpiresAt: time.Now().Add(-time.Hour)},
		{IdempotencyKey: "live", ResourceID: "b", ResourceType: "order",
			ExpiresAt: time.Now().Add(time.Hour)},
	}
	for i := range records {
		if err := db.db.Create(&records[i]).Error; err != nil {
			t.Fatalf("create record error: %v", err)
		}
	}

	removed, err := db.DeleteExpiredIdempotencyRecords(time.Now())
	if err != nil {
		t.Fatalf("DeleteExpiredIdempotencyRecords error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	remaining, err := db.GetIdempotencyRecord("live")
	if err != nil {
		t.Fatalf("GetIdempotencyRecord error: %v", err)
	}
	if remaining.ResourceID != "b" {
		t.Errorf("surviving record = %+v, want the live one", remaining)
	}
}

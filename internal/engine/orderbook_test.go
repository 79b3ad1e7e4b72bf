package engine

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/ksred/exchange-api/internal/types"
)

func TestGetOrderBookSorting(t *testing.T) {
	store := newFakeStore()
	store.add(newOrder("b1", types.SideBuy, types.TypeLimit, 1, fp(99), 1))
	store.add(newOrder("b2", types.SideBuy, types.TypeLimit, 1, fp(101), 2))
	store.add(newOrder("a1", types.SideSell, types.TypeLimit, 1, fp(105), 3))
	store.add(newOrder("a2", types.SideSell, types.TypeLimit, 1, fp(103), 4))

	eng := New(store)
	book, err := eng.GetOrderBook("BTCUSD")
	if err != nil {
		t.Fatalf("get order book: %v", err)
	}

	if book.Symbol != "BTCUSD" {
		t.Fatalf("unexpected symbol: %s", book.Symbol)
	}
	if len(book.Bids) != 2 || book.Bids[0].OrderID != "b2" || book.Bids[1].OrderID != "b1" {
		t.Fatalf("bids not sorted by descending price: %v", orderIDs(book.Bids))
	}
	if len(book.Asks) != 2 || book.Asks[0].OrderID != "a2" || book.Asks[1].OrderID != "a1" {
		t.Fatalf("asks not sorted by ascending price: %v", orderIDs(book.Asks))
	}
}

func TestGetOrderBookExcludesFilled(t *testing.T) {
	store := newFakeStore()
	filled := newOrder("b1", types.SideBuy, types.TypeLimit, 1, fp(100), 1)
	filled.Status = types.StatusFilled
	filled.FilledQuantity = 1
	store.add(filled)

	partial := newOrder("b2", types.SideBuy, types.TypeLimit, 2, fp(100), 2)
	partial.Status = types.StatusPartiallyFilled
	partial.FilledQuantity = 1
	store.add(partial)

	eng := New(store)
	book, err := eng.GetOrderBook("BTCUSD")
	if err != nil {
		t.Fatalf("get order book: %v", err)
	}

	if len(book.Bids) != 1 || book.Bids[0].OrderID != "b2" {
		t.Fatalf("expected only the partially filled bid, got %v", orderIDs(book.Bids))
	}
}

func TestGetOrderBookDepthLimit(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 25; i++ {
		store.add(newOrder(fmt.Sprintf("b%02d", i), types.SideBuy, types.TypeLimit, 1, fp(float64(100+i)), i))
	}

	eng := New(store)
	book, err := eng.GetOrderBook("BTCUSD")
	if err != nil {
		t.Fatalf("get order book: %v", err)
	}

	if len(book.Bids) != bookDepth {
		t.Fatalf("expected %d bids, got %d", bookDepth, len(book.Bids))
	}
	// Best bid is the highest price submitted.
	if book.Bids[0].PriceValue() != 124 {
		t.Fatalf("unexpected best bid: %v", book.Bids[0].PriceValue())
	}
}

func TestGetOrderBookIdempotent(t *testing.T) {
	store := newFakeStore()
	store.add(newOrder("b1", types.SideBuy, types.TypeLimit, 1, fp(100), 1))
	store.add(newOrder("a1", types.SideSell, types.TypeLimit, 1, fp(105), 2))

	eng := New(store)
	first, err := eng.GetOrderBook("BTCUSD")
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	second, err := eng.GetOrderBook("BTCUSD")
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	if !reflect.DeepEqual(first.Bids, second.Bids) || !reflect.DeepEqual(first.Asks, second.Asks) {
		t.Fatalf("snapshots differ with no intervening activity:\nfirst: %+v\nsecond: %+v", first, second)
	}
}

func TestGetOrderBookEmptySymbol(t *testing.T) {
	eng := New(newFakeStore())
	book, err := eng.GetOrderBook("NOPE")
	if err != nil {
		t.Fatalf("get order book: %v", err)
	}
	if len(book.Bids) != 0 || len(book.Asks) != 0 {
		t.Fatalf("expected empty book, got %+v", book)
	}
}

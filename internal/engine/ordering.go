package engine

import (
	"sort"

	"github.com/ksred/exchange-api/internal/types"
)

// PriceTimeLess is the priority rule used to rank matching candidates and
// book entries: best price first, earlier creation breaks ties. A missing
// price compares as 0. When the two orders are on opposite sides BUY sorts
// before SELL; matching always filters to one side first, so that branch
// only shows up in mixed listings.
func PriceTimeLess(a, b *types.Order) bool {
	if a.Side == types.SideBuy && b.Side == types.SideSell {
		return true
	}
	if a.Side == types.SideSell && b.Side == types.SideBuy {
		return false
	}

	if a.Side == types.SideBuy && b.Side == types.SideBuy {
		if a.PriceValue() != b.PriceValue() {
			return a.PriceValue() > b.PriceValue()
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}

	if a.Side == types.SideSell && b.Side == types.SideSell {
		if a.PriceValue() != b.PriceValue() {
			return a.PriceValue() < b.PriceValue()
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}

	return a.CreatedAt.Before(b.CreatedAt)
}

// SortByPriority sorts orders in place by price-time priority.
func SortByPriority(orders []types.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return PriceTimeLess(&orders[i], &orders[j])
	})
}

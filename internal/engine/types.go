package engine

import (
	. "bourse/internal/common"
)

// LevelSnapshot aggregates one price level.
type LevelSnapshot struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// BookSnapshot is a read-only projection of a book. Both sides are ordered
// best first.
type BookSnapshot struct {
	Ticker          string          `json:"ticker"`
	Bids            []LevelSnapshot `json:"bids"`
	Asks            []LevelSnapshot `json:"asks"`
	LastTradedPrice int64           `json:"last_traded_price"`
	HasTraded       bool            `json:"has_traded"`
}

// Snapshot projects the book without mutating it.
func (book *OrderBook) Snapshot() BookSnapshot {
	ltp, traded := book.LastTradedPrice()
	return BookSnapshot{
		Ticker:          book.ticker,
		Bids:            snapshotLevels(book.Bids),
		Asks:            snapshotLevels(book.Asks),
		LastTradedPrice: ltp,
		HasTraded:       traded,
	}
}

func snapshotLevels(levels *PriceLevels) []LevelSnapshot {
	out := make([]LevelSnapshot, 0, levels.Len())
	levels.Scan(func(level *PriceLevel) bool {
		out = append(out, LevelSnapshot{
			Price:    level.priceLevel,
			Quantity: level.volume,
			Orders:   len(level.orders),
		})
		return true
	})
	return out
}

// FlatPriceLevel exposes a price level with copies of its orders, earliest
// first.
type FlatPriceLevel struct {
	PriceLevel int64
	Orders     []Order
}

// FlattenLevels converts btree items into FlatPriceLevels in the same order.
func FlattenLevels(levels []*PriceLevel) []FlatPriceLevel {
	flat := make([]FlatPriceLevel, len(levels))
	for i, level := range levels {
		orders := make([]Order, len(level.orders))
		for j, o := range level.orders {
			orders[j] = *o
		}
		flat[i] = FlatPriceLevel{
			PriceLevel: level.priceLevel,
			Orders:     orders,
		}
	}
	return flat
}

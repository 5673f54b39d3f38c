package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/tidwall/btree"

	. "bourse/internal/common"
)

type PriceLevel struct {
	priceLevel int64
	volume     int64 // Sum of remaining quantity at this level
	orders     []*Order
}

type PriceLevels = btree.BTreeG[*PriceLevel]

// FillHandler is called for every fill, in execution order, while the book is
// being matched. The resting order has already been reduced (and removed if
// filled) when it runs.
type FillHandler func(fill Fill)

// MatchResult is what a single submission did to the book.
type MatchResult struct {
	Fills   []Fill
	Resting *Order // Copy of the remainder left in the book, nil if none
}

// OrderBook is a single instrument's limit order book. It is not safe for
// concurrent use; the owning Engine serializes access.
type OrderBook struct {
	ticker string
	onFill FillHandler

	// Price levels to orders sat on the price level, sorted by time added
	// as they will be push-back'd.
	Bids *PriceLevels
	Asks *PriceLevels

	// Resting orders by uuid, for direct reduce/remove.
	index map[string]*Order

	// Price of the most recent fill. Zero until the first trade.
	lastTradedPrice int64

	// Some book keeping
	nBuyOrders   uint64 // Track the number of bids in the book.
	nSellOrders  uint64 // Track the number of asks in the book.
	buyQuantity  int64  // Track the bid-side liquidity of the book.
	sellQuantity int64  // Track the ask-side liquidity of the book.
}

func NewOrderBook(ticker string, onFill FillHandler) *OrderBook {
	opts := btree.Options{NoLocks: true}
	// Sorted greatest first.
	bids := btree.NewBTreeGOptions(func(a, b *PriceLevel) bool {
		return a.priceLevel > b.priceLevel
	}, opts)
	// Sorted least first.
	asks := btree.NewBTreeGOptions(func(a, b *PriceLevel) bool {
		return a.priceLevel < b.priceLevel
	}, opts)
	return &OrderBook{
		ticker: ticker,
		onFill: onFill,
		Bids:   bids,
		Asks:   asks,
		index:  make(map[string]*Order),
	}
}

// Submit matches an incoming limit order against the opposite side in
// price-time priority and rests any remainder at its limit price.
//
// Every fill trades at the resting order's price. Matching stops when the
// order is filled, the opposite side is empty, or the best opposite price no
// longer crosses the limit. An order that matches against its own owner's
// resting order is filled like any other.
func (book *OrderBook) Submit(order *Order) MatchResult {
	if order.Quantity <= 0 || order.LimitPrice <= 0 {
		panic(fmt.Sprintf("book %s: submitted order %s with quantity %d price %d",
			book.ticker, order.UUID, order.Quantity, order.LimitPrice))
	}
	if order.Timestamp.IsZero() {
		order.Timestamp = time.Now()
	}

	var result MatchResult
	opposite := book.levels(order.Side.Opposite())

	// Consume crossing orders. This will essentially be our latest order sweeping
	// across price levels as far as its depth and liquidity go.
	for order.Quantity > 0 {
		// Min here accounts for bids and asks being in inverse order, based on their
		// comparison method.
		level, ok := opposite.MinMut()
		if !ok || !crosses(order, level.priceLevel) {
			break
		}
		if len(level.orders) == 0 || level.volume <= 0 {
			panic(fmt.Sprintf("book %s: empty price level %d left in book", book.ticker, level.priceLevel))
		}

		resting := level.orders[0]
		matchQty := min(order.Quantity, resting.Quantity)
		order.Quantity -= matchQty
		resting.Quantity -= matchQty
		level.volume -= matchQty
		book.addLiquidity(resting.Side, -matchQty)

		if resting.Quantity < 0 || order.Quantity < 0 {
			panic(fmt.Sprintf("book %s: negative remaining quantity after matching %s against %s",
				book.ticker, order.UUID, resting.UUID))
		}

		if resting.Quantity == 0 {
			book.unlink(level, 0)
		}

		fill := book.newFill(order, resting, matchQty)
		book.lastTradedPrice = fill.Price
		result.Fills = append(result.Fills, fill)
		if book.onFill != nil {
			book.onFill(fill)
		}
	}

	if order.Quantity > 0 {
		book.rest(order)
		remainder := *order
		result.Resting = &remainder
	}

	book.mustNotCross()
	return result
}

// Cancel removes a resting order. Returns false if the order is no longer in
// the book.
func (book *OrderBook) Cancel(orderID string) (Order, bool) {
	order, ok := book.index[orderID]
	if !ok {
		return Order{}, false
	}
	levels := book.levels(order.Side)
	level, ok := levels.GetMut(&PriceLevel{priceLevel: order.LimitPrice})
	if !ok {
		panic(fmt.Sprintf("book %s: indexed order %s has no price level %d", book.ticker, orderID, order.LimitPrice))
	}
	idx := slices.Index(level.orders, order)
	if idx < 0 {
		panic(fmt.Sprintf("book %s: indexed order %s missing from level %d", book.ticker, orderID, order.LimitPrice))
	}

	level.volume -= order.Quantity
	book.addLiquidity(order.Side, -order.Quantity)
	book.unlink(level, idx)
	return *order, true
}

// Has reports whether the order is resting in the book.
func (book *OrderBook) Has(orderID string) bool {
	_, ok := book.index[orderID]
	return ok
}

// Order returns a copy of a resting order.
func (book *OrderBook) Order(orderID string) (Order, bool) {
	order, ok := book.index[orderID]
	if !ok {
		return Order{}, false
	}
	return *order, true
}

func (book *OrderBook) BestBid() (int64, bool) {
	level, ok := book.Bids.Min()
	if !ok {
		return 0, false
	}
	return level.priceLevel, true
}

func (book *OrderBook) BestAsk() (int64, bool) {
	level, ok := book.Asks.Min()
	if !ok {
		return 0, false
	}
	return level.priceLevel, true
}

// LastTradedPrice returns the price of the latest fill, or false if the book
// has never traded.
func (book *OrderBook) LastTradedPrice() (int64, bool) {
	return book.lastTradedPrice, book.lastTradedPrice != 0
}

// Depth returns the number of resting orders and their total quantity on a side.
func (book *OrderBook) Depth(side Side) (uint64, int64) {
	if side == Buy {
		return book.nBuyOrders, book.buyQuantity
	}
	return book.nSellOrders, book.sellQuantity
}

func (book *OrderBook) levels(side Side) *PriceLevels {
	if side == Buy {
		return book.Bids
	}
	return book.Asks
}

// rest appends the order to its price level, creating the level if needed.
func (book *OrderBook) rest(order *Order) {
	levels := book.levels(order.Side)

	// Levels comparator only accounts for price levels, so we create a dummy price
	// level for the search.
	level, ok := levels.GetMut(&PriceLevel{priceLevel: order.LimitPrice})
	if ok {
		// If the price level already exists, just append onto the existing orders.
		level.orders = append(level.orders, order)
		level.volume += order.Quantity
	} else {
		// Otherwise, if the price level does not exist, create the price level.
		levels.Set(&PriceLevel{
			priceLevel: order.LimitPrice,
			volume:     order.Quantity,
			orders:     []*Order{order},
		})
	}

	book.index[order.UUID] = order
	book.addLiquidity(order.Side, order.Quantity)
	if order.Side == Buy {
		book.nBuyOrders++
	} else {
		book.nSellOrders++
	}
}

// unlink drops level.orders[idx] from the book, deleting the level when it
// becomes empty. Liquidity must already be accounted for by the caller.
func (book *OrderBook) unlink(level *PriceLevel, idx int) {
	order := level.orders[idx]
	level.orders = slices.Delete(level.orders, idx, idx+1)
	delete(book.index, order.UUID)
	if order.Side == Buy {
		book.nBuyOrders--
	} else {
		book.nSellOrders--
	}

	if len(level.orders) == 0 {
		if level.volume != 0 {
			panic(fmt.Sprintf("book %s: level %d emptied with volume %d", book.ticker, level.priceLevel, level.volume))
		}
		book.levels(order.Side).Delete(level)
	}
}

func (book *OrderBook) addLiquidity(side Side, quantity int64) {
	if side == Buy {
		book.buyQuantity += quantity
	} else {
		book.sellQuantity += quantity
	}
}

func (book *OrderBook) newFill(taker, maker *Order, quantity int64) Fill {
	fill := Fill{
		Ticker:    book.ticker,
		Price:     maker.LimitPrice,
		Quantity:  quantity,
		TakerSide: taker.Side,
		Timestamp: time.Now(),
	}
	buy, sell := taker, maker
	if taker.Side == Sell {
		buy, sell = maker, taker
	}
	fill.Buyer, fill.BuyOrder = buy.Owner, buy.UUID
	fill.Seller, fill.SellOrder = sell.Owner, sell.UUID
	return fill
}

// mustNotCross asserts that the book is at rest with best bid below best ask.
func (book *OrderBook) mustNotCross() {
	bid, bidOk := book.BestBid()
	ask, askOk := book.BestAsk()
	if bidOk && askOk && bid >= ask {
		panic(fmt.Sprintf("book %s: crossed at rest, bid %d >= ask %d", book.ticker, bid, ask))
	}
}

// crosses reports whether an incoming order can trade at price.
func crosses(order *Order, price int64) bool {
	if order.Side == Buy {
		return price <= order.LimitPrice
	}
	return price >= order.LimitPrice
}

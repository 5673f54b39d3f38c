package account

import (
	"fmt"
	"slices"
	"sync"

	. "bourse/internal/common"
)

// OpenOrder is an account's own record of one of its resting orders. It is
// used for inspection and cancellation, never for matching.
type OpenOrder struct {
	UUID      string `json:"uuid"`
	Ticker    string `json:"ticker"`
	Side      Side   `json:"side"`
	Price     int64  `json:"price"`
	Remaining int64  `json:"remaining"`
	Sequence  uint64 `json:"sequence"`
}

// Account holds a participant's cash, share positions and open orders.
//
// Admission reserves what an order may consume: limit*quantity cash for buys
// and quantity shares for sells. A resting order can therefore always settle.
// Available balances are held minus reserved.
type Account struct {
	mu sync.Mutex

	id             string
	cash           int64
	reservedCash   int64
	positions      map[string]int64
	reservedShares map[string]int64
	orders         map[string][]OpenOrder // ticker -> orders by arrival
}

func New(id string, cash int64) *Account {
	return &Account{
		id:             id,
		cash:           cash,
		positions:      make(map[string]int64),
		reservedShares: make(map[string]int64),
		orders:         make(map[string][]OpenOrder),
	}
}

func (a *Account) ID() string { return a.id }

// Deposit adds cash to the account.
func (a *Account) Deposit(amount int64) error {
	return a.Fund(amount, "", 0)
}

// Credit adds shares of ticker to the account.
func (a *Account) Credit(ticker string, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidAmount
	}
	return a.Fund(0, ticker, quantity)
}

// Fund adds cash and shares of ticker in one step. Nothing changes if any part
// is invalid or would overflow.
func (a *Account) Fund(cash int64, ticker string, quantity int64) error {
	if cash < 0 || quantity < 0 || (cash == 0 && quantity == 0) {
		return ErrInvalidAmount
	}
	if quantity > 0 && ticker == "" {
		return ErrInvalidSymbol
	}
	if quantity == 0 && ticker != "" {
		return ErrInvalidAmount
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	newCash, ok := CheckedAdd(a.cash, cash)
	if !ok {
		return fmt.Errorf("%w: cash would overflow", ErrInvalidAmount)
	}
	newPosition, ok := CheckedAdd(a.positions[ticker], quantity)
	if !ok {
		return fmt.Errorf("%w: %s position would overflow", ErrInvalidAmount, ticker)
	}
	a.cash = newCash
	if quantity > 0 {
		a.positions[ticker] = newPosition
	}
	return nil
}

// Admit runs the pre-trade check for a new order and, if it passes, reserves
// the order's full requirement and records it as open. Nothing changes on
// rejection.
func (a *Account) Admit(order *Order) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch order.Side {
	case Buy:
		notional, ok := Notional(order.LimitPrice, order.Quantity)
		if !ok || notional > a.cash-a.reservedCash {
			return fmt.Errorf("%w: need %d, available %d", ErrInsufficientFunds, notional, a.cash-a.reservedCash)
		}
		a.reservedCash += notional
	case Sell:
		available := a.positions[order.Ticker] - a.reservedShares[order.Ticker]
		if order.Quantity > available {
			return fmt.Errorf("%w: need %d, available %d", ErrInsufficientPosition, order.Quantity, available)
		}
		adjust(a.reservedShares, order.Ticker, order.Quantity)
	default:
		return ErrInvalidSide
	}

	a.orders[order.Ticker] = append(a.orders[order.Ticker], OpenOrder{
		UUID:      order.UUID,
		Ticker:    order.Ticker,
		Side:      order.Side,
		Price:     order.LimitPrice,
		Remaining: order.Quantity,
		Sequence:  order.Sequence,
	})
	return nil
}

// ApplyFill settles one leg of a fill against this account. Use Settle to
// apply both legs of a fill atomically.
func (a *Account) ApplyFill(side Side, ticker, orderID string, price, quantity int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applyFill(side, ticker, orderID, price, quantity)
}

// applyFill expects a.mu to be held.
func (a *Account) applyFill(side Side, ticker, orderID string, price, quantity int64) {
	idx := a.findOrder(ticker, orderID)
	if idx < 0 {
		panic(fmt.Sprintf("account %s: fill for unknown order %s", a.id, orderID))
	}
	open := &a.orders[ticker][idx]
	if quantity <= 0 || quantity > open.Remaining {
		panic(fmt.Sprintf("account %s: fill of %d exceeds remaining %d on %s", a.id, quantity, open.Remaining, orderID))
	}

	switch side {
	case Buy:
		// Reserved at the limit, charged at the trade price.
		a.cash -= price * quantity
		a.reservedCash -= open.Price * quantity
		a.positions[ticker] = mustAdd(a.id, a.positions[ticker], quantity)
	case Sell:
		a.cash = mustAdd(a.id, a.cash, price*quantity)
		adjust(a.reservedShares, ticker, -quantity)
		adjust(a.positions, ticker, -quantity)
	}

	open.Remaining -= quantity
	if open.Remaining == 0 {
		a.removeOrder(ticker, idx)
	}
}

// Release drops an open order and returns whatever it still had reserved.
// Returns false if the order is not open on this account.
func (a *Account) Release(ticker, orderID string) (OpenOrder, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.findOrder(ticker, orderID)
	if idx < 0 {
		return OpenOrder{}, false
	}
	open := a.orders[ticker][idx]
	switch open.Side {
	case Buy:
		a.reservedCash -= open.Price * open.Remaining
	case Sell:
		adjust(a.reservedShares, ticker, -open.Remaining)
	}
	a.removeOrder(ticker, idx)
	return open, true
}

func (a *Account) Cash() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// AvailableCash is cash not reserved by open buy orders.
func (a *Account) AvailableCash() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash - a.reservedCash
}

func (a *Account) Position(ticker string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[ticker]
}

// AvailableShares is the position not reserved by open sell orders.
func (a *Account) AvailableShares(ticker string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[ticker] - a.reservedShares[ticker]
}

// OpenOrders returns a copy of the open orders on ticker, earliest first.
func (a *Account) OpenOrders(ticker string) []OpenOrder {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.orders[ticker])
}

func (a *Account) findOrder(ticker, orderID string) int {
	return slices.IndexFunc(a.orders[ticker], func(o OpenOrder) bool {
		return o.UUID == orderID
	})
}

func (a *Account) removeOrder(ticker string, idx int) {
	a.orders[ticker] = slices.Delete(a.orders[ticker], idx, idx+1)
	if len(a.orders[ticker]) == 0 {
		delete(a.orders, ticker)
	}
}

// mustAdd adds during settlement. Supply is bounded by the Manager, so an
// overflow here means balances were corrupted.
func mustAdd(id string, a, b int64) int64 {
	sum, ok := CheckedAdd(a, b)
	if !ok {
		panic(fmt.Sprintf("account %s: balance overflow adding %d to %d", id, b, a))
	}
	return sum
}

// adjust applies delta to m[key] and drops the key when it reaches zero.
func adjust(m map[string]int64, key string, delta int64) {
	v := m[key] + delta
	if v == 0 {
		delete(m, key)
		return
	}
	m[key] = v
}

package account

import (
	"maps"
	"slices"
)

// Snapshot is a read-only projection of an account.
type Snapshot struct {
	ID             string                 `json:"id"`
	Cash           int64                  `json:"cash"`
	ReservedCash   int64                  `json:"reserved_cash"`
	Positions      map[string]int64       `json:"positions"`
	ReservedShares map[string]int64       `json:"reserved_shares"`
	OpenOrders     map[string][]OpenOrder `json:"open_orders"`
}

// AvailableCash is cash not reserved by open buy orders.
func (s Snapshot) AvailableCash() int64 {
	return s.Cash - s.ReservedCash
}

func (a *Account) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

func (a *Account) snapshot() Snapshot {
	orders := make(map[string][]OpenOrder, len(a.orders))
	for ticker, list := range a.orders {
		orders[ticker] = slices.Clone(list)
	}
	return Snapshot{
		ID:             a.id,
		Cash:           a.cash,
		ReservedCash:   a.reservedCash,
		Positions:      maps.Clone(a.positions),
		ReservedShares: maps.Clone(a.reservedShares),
		OpenOrders:     orders,
	}
}

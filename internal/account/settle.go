package account

import (
	"sort"

	. "bourse/internal/common"
)

// Settle applies both legs of fill: the buyer pays and receives shares, the
// seller delivers shares and is paid. Both account guards are held for the
// whole fill so no reader sees one leg without the other. Guards are taken in
// id order; a self-trade locks its single account once.
func Settle(fill Fill, buyer, seller *Account) {
	unlock := lockAll(buyer, seller)
	defer unlock()

	buyer.applyFill(Buy, fill.Ticker, fill.BuyOrder, fill.Price, fill.Quantity)
	seller.applyFill(Sell, fill.Ticker, fill.SellOrder, fill.Price, fill.Quantity)
}

// Snapshots reads several accounts as of one instant.
func Snapshots(accounts ...*Account) []Snapshot {
	unlock := lockAll(accounts...)
	defer unlock()

	snaps := make([]Snapshot, len(accounts))
	for i, a := range accounts {
		snaps[i] = a.snapshot()
	}
	return snaps
}

// lockAll acquires the guards of the distinct accounts in id order and
// returns a function releasing them.
func lockAll(accounts ...*Account) func() {
	distinct := make([]*Account, 0, len(accounts))
	for _, a := range accounts {
		dup := false
		for _, d := range distinct {
			if d == a {
				dup = true
				break
			}
		}
		if !dup {
			distinct = append(distinct, a)
		}
	}
	sort.Slice(distinct, func(i, j int) bool {
		return distinct[i].id < distinct[j].id
	})

	for _, a := range distinct {
		a.mu.Lock()
	}
	return func() {
		for i := len(distinct) - 1; i >= 0; i-- {
			distinct[i].mu.Unlock()
		}
	}
}

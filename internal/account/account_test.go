package account

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "bourse/internal/common"
)

func newOrder(id string, owner string, side Side, price, qty int64) *Order {
	return &Order{
		UUID:          id,
		Ticker:        "ACME",
		Side:          side,
		LimitPrice:    price,
		Quantity:      qty,
		TotalQuantity: qty,
		Owner:         owner,
	}
}

func TestAdmit_BuyReservesNotional(t *testing.T) {
	acct := New("alice", 1000)

	require.NoError(t, acct.Admit(newOrder("o1", "alice", Buy, 10, 60)))
	assert.Equal(t, int64(1000), acct.Cash())
	assert.Equal(t, int64(400), acct.AvailableCash())

	err := acct.Admit(newOrder("o2", "alice", Buy, 10, 41))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(400), acct.AvailableCash(), "rejection must not reserve")
	assert.Len(t, acct.OpenOrders("ACME"), 1)
}

func TestAdmit_BuyOverflowIsInsufficientFunds(t *testing.T) {
	acct := New("alice", 1000)
	err := acct.Admit(newOrder("o1", "alice", Buy, 1<<62, 4))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestAdmit_SellReservesShares(t *testing.T) {
	acct := New("bob", 0)
	require.NoError(t, acct.Credit("ACME", 10))

	require.NoError(t, acct.Admit(newOrder("s1", "bob", Sell, 50, 7)))
	assert.Equal(t, int64(10), acct.Position("ACME"))
	assert.Equal(t, int64(3), acct.AvailableShares("ACME"))

	err := acct.Admit(newOrder("s2", "bob", Sell, 50, 4))
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	err = acct.Admit(&Order{UUID: "s3", Ticker: "NOPE", Side: Sell, LimitPrice: 1, Quantity: 1, TotalQuantity: 1})
	assert.ErrorIs(t, err, ErrInsufficientPosition)
}

func TestApplyFill_BuyPriceImprovementFreesReservation(t *testing.T) {
	acct := New("alice", 1000)
	require.NoError(t, acct.Admit(newOrder("o1", "alice", Buy, 55, 10)))

	// Limit 55, executed at 50.
	acct.ApplyFill(Buy, "ACME", "o1", 50, 5)

	assert.Equal(t, int64(750), acct.Cash())
	assert.Equal(t, int64(5), acct.Position("ACME"))
	// 5 left reserved at 55.
	assert.Equal(t, int64(750-275), acct.AvailableCash())

	open := acct.OpenOrders("ACME")
	require.Len(t, open, 1)
	assert.Equal(t, int64(5), open[0].Remaining)
}

func TestApplyFill_RemovesCompletedOrderAndZeroPositions(t *testing.T) {
	acct := New("bob", 0)
	require.NoError(t, acct.Credit("ACME", 4))
	require.NoError(t, acct.Admit(newOrder("s1", "bob", Sell, 25, 4)))

	acct.ApplyFill(Sell, "ACME", "s1", 25, 4)

	snap := acct.Snapshot()
	assert.Equal(t, int64(100), snap.Cash)
	assert.NotContains(t, snap.Positions, "ACME", "zero positions are removed")
	assert.NotContains(t, snap.ReservedShares, "ACME")
	assert.Empty(t, snap.OpenOrders)
}

func TestApplyFill_UnknownOrderPanics(t *testing.T) {
	acct := New("alice", 1000)
	assert.Panics(t, func() {
		acct.ApplyFill(Buy, "ACME", "missing", 10, 1)
	})
}

func TestRelease(t *testing.T) {
	acct := New("alice", 1000)
	require.NoError(t, acct.Admit(newOrder("o1", "alice", Buy, 10, 50)))
	acct.ApplyFill(Buy, "ACME", "o1", 10, 20)

	open, ok := acct.Release("ACME", "o1")
	require.True(t, ok)
	assert.Equal(t, int64(30), open.Remaining)
	assert.Equal(t, int64(800), acct.Cash())
	assert.Equal(t, int64(800), acct.AvailableCash())
	assert.Empty(t, acct.OpenOrders("ACME"))

	_, ok = acct.Release("ACME", "o1")
	assert.False(t, ok)
}

func TestSettle_TransfersCashAndShares(t *testing.T) {
	buyer := New("y", 1000)
	seller := New("x", 0)
	require.NoError(t, seller.Credit("ACME", 10))
	require.NoError(t, seller.Admit(newOrder("s1", "x", Sell, 50, 10)))
	require.NoError(t, buyer.Admit(newOrder("b1", "y", Buy, 55, 5)))

	Settle(Fill{
		Ticker: "ACME", Price: 50, Quantity: 5,
		Buyer: "y", Seller: "x", BuyOrder: "b1", SellOrder: "s1",
	}, buyer, seller)

	snaps := Snapshots(buyer, seller)
	assert.Equal(t, int64(750), snaps[0].Cash)
	assert.Equal(t, int64(5), snaps[0].Positions["ACME"])
	assert.Equal(t, int64(250), snaps[1].Cash)
	assert.Equal(t, int64(5), snaps[1].Positions["ACME"])
	assert.Equal(t, int64(5), snaps[1].OpenOrders["ACME"][0].Remaining)
}

func TestSettle_SelfTradeNetsToZero(t *testing.T) {
	acct := New("a", 1000)
	require.NoError(t, acct.Credit("ACME", 3))
	require.NoError(t, acct.Admit(newOrder("s1", "a", Sell, 20, 3)))
	require.NoError(t, acct.Admit(newOrder("b1", "a", Buy, 20, 3)))

	Settle(Fill{
		Ticker: "ACME", Price: 20, Quantity: 3,
		Buyer: "a", Seller: "a", BuyOrder: "b1", SellOrder: "s1",
	}, acct, acct)

	snap := acct.Snapshot()
	assert.Equal(t, int64(1000), snap.Cash)
	assert.Equal(t, int64(0), snap.ReservedCash)
	assert.Equal(t, int64(3), snap.Positions["ACME"])
	assert.Empty(t, snap.OpenOrders)
}

func TestSettle_OppositeOrderConcurrentNoDeadlock(t *testing.T) {
	a := New("a", 1_000_000)
	b := New("b", 1_000_000)
	require.NoError(t, a.Credit("ACME", 1000))
	require.NoError(t, b.Credit("ACME", 1000))

	var wg sync.WaitGroup
	for i := range 200 {
		buyer, seller := a, b
		if i%2 == 1 {
			buyer, seller = b, a
		}
		buyID := fmt.Sprintf("b%d", i)
		sellID := fmt.Sprintf("s%d", i)
		require.NoError(t, buyer.Admit(newOrder(buyID, buyer.ID(), Buy, 1, 1)))
		require.NoError(t, seller.Admit(newOrder(sellID, seller.ID(), Sell, 1, 1)))

		wg.Add(1)
		go func() {
			defer wg.Done()
			Settle(Fill{Ticker: "ACME", Price: 1, Quantity: 1, BuyOrder: buyID, SellOrder: sellID}, buyer, seller)
		}()
	}
	wg.Wait()

	snaps := Snapshots(a, b)
	assert.Equal(t, int64(2_000_000), snaps[0].Cash+snaps[1].Cash)
	assert.Equal(t, int64(2000), snaps[0].Positions["ACME"]+snaps[1].Positions["ACME"])
}

func TestFund_RejectsOverflow(t *testing.T) {
	acct := New("a", 100000)

	err := acct.Deposit(math.MaxInt64)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, int64(100000), acct.Cash())

	require.NoError(t, acct.Credit("ACME", math.MaxInt64))
	assert.ErrorIs(t, acct.Credit("ACME", 10), ErrInvalidAmount)
	assert.Equal(t, int64(math.MaxInt64), acct.Position("ACME"))
}

func TestFund_AllOrNothing(t *testing.T) {
	acct := New("a", 100)
	require.NoError(t, acct.Credit("ACME", math.MaxInt64))

	// The share leg overflows, so the cash leg must not land either.
	assert.ErrorIs(t, acct.Fund(500, "ACME", 1), ErrInvalidAmount)
	assert.Equal(t, int64(100), acct.Cash())

	require.NoError(t, acct.Fund(500, "BOLT", 2))
	assert.Equal(t, int64(600), acct.Cash())
	assert.Equal(t, int64(2), acct.Position("BOLT"))
}

func TestFund_Validation(t *testing.T) {
	acct := New("a", 0)
	tests := []struct {
		name     string
		cash     int64
		ticker   string
		quantity int64
		err      error
	}{
		{"nothing", 0, "", 0, ErrInvalidAmount},
		{"negative cash", -1, "", 0, ErrInvalidAmount},
		{"negative shares", 0, "ACME", -1, ErrInvalidAmount},
		{"shares without ticker", 0, "", 5, ErrInvalidSymbol},
		{"ticker without shares", 10, "ACME", 0, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, acct.Fund(tt.cash, tt.ticker, tt.quantity), tt.err)
		})
	}
	assert.Equal(t, int64(0), acct.Cash())
}

func TestSettle_SellerNearMaxBalancePanicsOnOverflow(t *testing.T) {
	buyer := New("y", 1000)
	seller := New("x", math.MaxInt64-10)
	require.NoError(t, seller.Credit("ACME", 1))
	require.NoError(t, seller.Admit(newOrder("s1", "x", Sell, 50, 1)))
	require.NoError(t, buyer.Admit(newOrder("b1", "y", Buy, 50, 1)))

	assert.Panics(t, func() {
		Settle(Fill{
			Ticker: "ACME", Price: 50, Quantity: 1,
			Buyer: "y", Seller: "x", BuyOrder: "b1", SellOrder: "s1",
		}, buyer, seller)
	})
}

package common

import (
	"fmt"
	"time"
)

// Fill accounts for the two parties who matched. One fill is one atomic unit
// of settlement between exactly one buy and one sell order.
type Fill struct {
	Ticker    string
	Price     int64 // Resting order's price
	Quantity  int64
	Buyer     string
	Seller    string
	BuyOrder  string // Buy order uuid
	SellOrder string // Sell order uuid
	TakerSide Side   // Side of the incoming order
	Timestamp time.Time
}

// Value is the cash that changes hands for this fill.
func (f Fill) Value() int64 {
	return f.Price * f.Quantity
}

// Taker returns the owner of the incoming order.
func (f Fill) Taker() string {
	if f.TakerSide == Buy {
		return f.Buyer
	}
	return f.Seller
}

// Maker returns the owner of the resting order.
func (f Fill) Maker() string {
	if f.TakerSide == Buy {
		return f.Seller
	}
	return f.Buyer
}

func (f Fill) String() string {
	return fmt.Sprintf(
		`Ticker:         %s
Buyer:          %s (%s)
Seller:         %s (%s)
Timestamp:      %v
MatchQty:       %d
Price:          %d`,
		f.Ticker,
		f.Buyer, f.BuyOrder,
		f.Seller, f.SellOrder,
		f.Timestamp.Format(time.RFC3339),
		f.Quantity,
		f.Price,
	)
}

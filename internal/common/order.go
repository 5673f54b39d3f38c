package common

import (
	"fmt"
	"time"
)

type Order struct {
	UUID          string    // Order tracked uuid
	Sequence      uint64    // Arrival sequence, breaks time priority ties
	Ticker        string    // Instrument symbol
	Side          Side      // Order side
	LimitPrice    int64     // Limiting price
	Quantity      int64     // Remaining quantity
	TotalQuantity int64     // Total volume requested
	Timestamp     time.Time // Time of arrival of order into the book
	Owner         string    // Who owns this order
}

// Filled returns the quantity executed so far.
func (order Order) Filled() int64 {
	return order.TotalQuantity - order.Quantity
}

func (order Order) String() string {
	return fmt.Sprintf(
		`UUID:          %v
Sequence:      %d
Ticker:        %s
Side:          %v
LimitPrice:    %d
Quantity:      %d (Total: %d)
Timestamp:     %v
Owner:         %s`,
		order.UUID,
		order.Sequence,
		order.Ticker,
		order.Side,
		order.LimitPrice,
		order.Quantity,
		order.TotalQuantity,
		order.Timestamp.Format(time.RFC3339), // Formatted for readability
		order.Owner,
	)
}

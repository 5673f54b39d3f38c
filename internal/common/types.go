package common

import "strings"

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "b":
		return Buy, nil
	case "sell", "s":
		return Sell, nil
	}
	return 0, ErrInvalidSide
}

// Notional returns price*quantity, reporting false if it would overflow int64.
func Notional(price, quantity int64) (int64, bool) {
	if price <= 0 || quantity <= 0 {
		return 0, false
	}
	if quantity > maxInt64/price {
		return 0, false
	}
	return price * quantity, true
}

// CheckedAdd returns a+b, reporting false if it would overflow int64.
func CheckedAdd(a, b int64) (int64, bool) {
	if (b > 0 && a > maxInt64-b) || (b < 0 && a < minInt64-b) {
		return 0, false
	}
	return a + b, true
}

const (
	maxInt64 = int64(^uint64(0) >> 1)
	minInt64 = -maxInt64 - 1
)

// MaxSymbolLen is the longest instrument symbol the order-entry protocol carries.
const MaxSymbolLen = 8

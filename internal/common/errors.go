package common

import "errors"

// Rejections. All of these are recoverable and reported back to the caller.
var (
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInvalidPrice         = errors.New("invalid price")
	ErrInvalidSide          = errors.New("invalid side")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrInvalidAccount       = errors.New("invalid account id")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInstrumentNotFound   = errors.New("instrument not found")
	ErrDuplicateListing     = errors.New("instrument already listed")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountExists        = errors.New("account already exists")
	ErrOrderNotOwned        = errors.New("order owned by another account")
)

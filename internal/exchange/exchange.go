package exchange

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"bourse/internal/account"
	. "bourse/internal/common"
	"bourse/internal/engine"
	"bourse/internal/sequence"
)

// Reporter receives every fill after the instrument's guard is released.
type Reporter interface {
	ReportFill(fill Fill) error
}

// Quote is an instrument and its last traded price.
type Quote struct {
	Ticker          string `json:"ticker"`
	LastTradedPrice int64  `json:"last_traded_price"`
	HasTraded       bool   `json:"has_traded"`
}

// Exchange maps instrument symbols to their matching engines and routes
// submissions from accounts to them.
type Exchange struct {
	accounts *account.Manager
	seq      *sequence.Sequencer

	mu      sync.RWMutex
	engines map[string]*engine.Engine

	reportersMu sync.RWMutex
	reporters   []Reporter
}

func New(accounts *account.Manager) *Exchange {
	return &Exchange{
		accounts: accounts,
		seq:      sequence.New(0),
		engines:  make(map[string]*engine.Engine),
	}
}

func (ex *Exchange) Accounts() *account.Manager { return ex.accounts }

// SetReporter registers a reporter for fills.
func (ex *Exchange) SetReporter(r Reporter) {
	ex.reportersMu.Lock()
	defer ex.reportersMu.Unlock()
	ex.reporters = append(ex.reporters, r)
}

// ListInstrument creates an empty book for symbol. Listing an existing symbol
// returns ErrDuplicateListing and changes nothing.
func (ex *Exchange) ListInstrument(symbol string) error {
	symbol, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	if _, ok := ex.engines[symbol]; ok {
		return ErrDuplicateListing
	}
	ex.engines[symbol] = engine.New(symbol, ex.seq)

	log.Info().Str("ticker", symbol).Msg("instrument listed")
	return nil
}

// Engine returns the matching engine of a listed instrument.
func (ex *Exchange) Engine(symbol string) (*engine.Engine, error) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()

	eng, ok := ex.engines[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return nil, ErrInstrumentNotFound
	}
	return eng, nil
}

// Instruments returns every listed instrument with its last traded price,
// sorted by symbol.
func (ex *Exchange) Instruments() []Quote {
	ex.mu.RLock()
	engines := make([]*engine.Engine, 0, len(ex.engines))
	for _, eng := range ex.engines {
		engines = append(engines, eng)
	}
	ex.mu.RUnlock()

	quotes := make([]Quote, len(engines))
	for i, eng := range engines {
		ltp, traded := eng.LastTradedPrice()
		quotes[i] = Quote{Ticker: eng.Ticker(), LastTradedPrice: ltp, HasTraded: traded}
	}
	slices.SortFunc(quotes, func(a, b Quote) int {
		return strings.Compare(a.Ticker, b.Ticker)
	})
	return quotes
}

// SubmitOrder places a limit order for accountID and returns once the order
// has been fully processed: every fill settled and any remainder resting.
func (ex *Exchange) SubmitOrder(ctx context.Context, accountID, symbol string, side Side, price, quantity int64) (engine.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return engine.Outcome{}, err
	}
	if quantity <= 0 {
		return engine.Outcome{}, ErrInvalidQuantity
	}
	if price <= 0 {
		return engine.Outcome{}, ErrInvalidPrice
	}
	eng, err := ex.Engine(symbol)
	if err != nil {
		return engine.Outcome{}, err
	}
	acct, err := ex.accounts.Get(accountID)
	if err != nil {
		return engine.Outcome{}, err
	}

	out, err := eng.PlaceOrder(acct, side, price, quantity)
	if err != nil {
		log.Debug().
			Err(err).
			Str("account", accountID).
			Str("ticker", eng.Ticker()).
			Msg("order rejected")
		return engine.Outcome{}, fmt.Errorf("%s %s: %w", side, eng.Ticker(), err)
	}

	ex.report(out.Fills)
	return out, nil
}

// CancelOrder removes a resting order owned by accountID. Returns false if
// the order is no longer resting.
func (ex *Exchange) CancelOrder(ctx context.Context, accountID, symbol, orderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	eng, err := ex.Engine(symbol)
	if err != nil {
		return false, err
	}
	acct, err := ex.accounts.Get(accountID)
	if err != nil {
		return false, err
	}
	return eng.Cancel(acct, orderID)
}

// Deposit adds cash to accountID.
func (ex *Exchange) Deposit(accountID string, amount int64) error {
	return ex.Fund(accountID, amount, "", 0)
}

// Credit grants accountID shares of a listed instrument.
func (ex *Exchange) Credit(accountID, symbol string, quantity int64) error {
	if symbol == "" {
		return ErrInvalidSymbol
	}
	return ex.Fund(accountID, 0, symbol, quantity)
}

// Fund adds cash and, when symbol is set, shares of that listed instrument to
// accountID. Everything is validated before anything changes.
func (ex *Exchange) Fund(accountID string, cash int64, symbol string, quantity int64) error {
	var ticker string
	if symbol != "" {
		eng, err := ex.Engine(symbol)
		if err != nil {
			return err
		}
		ticker = eng.Ticker()
	}
	return ex.accounts.Fund(accountID, cash, ticker, quantity)
}

// BookSnapshot projects the book of symbol.
func (ex *Exchange) BookSnapshot(symbol string) (engine.BookSnapshot, error) {
	eng, err := ex.Engine(symbol)
	if err != nil {
		return engine.BookSnapshot{}, err
	}
	return eng.Snapshot(), nil
}

// AccountSnapshot projects the account accountID.
func (ex *Exchange) AccountSnapshot(accountID string) (account.Snapshot, error) {
	acct, err := ex.accounts.Get(accountID)
	if err != nil {
		return account.Snapshot{}, err
	}
	return acct.Snapshot(), nil
}

func (ex *Exchange) report(fills []Fill) {
	if len(fills) == 0 {
		return
	}
	ex.reportersMu.RLock()
	defer ex.reportersMu.RUnlock()

	for _, fill := range fills {
		for _, r := range ex.reporters {
			if err := r.ReportFill(fill); err != nil {
				log.Error().Err(err).Str("ticker", fill.Ticker).Msg("unable to report fill")
			}
		}
	}
}

// normalizeSymbol upper-cases symbol and checks it fits the wire format.
func normalizeSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || len(symbol) > MaxSymbolLen {
		return "", ErrInvalidSymbol
	}
	for _, r := range symbol {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '.' && r != '-' {
			return "", ErrInvalidSymbol
		}
	}
	return symbol, nil
}

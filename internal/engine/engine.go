package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"bourse/internal/account"
	. "bourse/internal/common"
	"bourse/internal/sequence"
)

// Outcome is the completed result of one order submission.
type Outcome struct {
	Order   Order  // Final state of the submitted order
	Fills   []Fill // In execution order
	Resting int64  // Quantity left resting in the book
}

// Engine is the matching engine of one instrument. It owns the instrument's
// book behind a single guard: admission, matching, settlement of every fill
// into both accounts and resting the remainder all happen while it is held.
// Engines of different instruments run fully in parallel.
type Engine struct {
	mu     sync.Mutex
	ticker string
	book   *OrderBook
	seq    *sequence.Sequencer

	// Accounts of orders in the book, plus the order being processed.
	owners map[string]*account.Account
}

func New(ticker string, seq *sequence.Sequencer) *Engine {
	engine := &Engine{
		ticker: ticker,
		seq:    seq,
		owners: make(map[string]*account.Account),
	}
	engine.book = NewOrderBook(ticker, engine.settle)
	return engine
}

func (engine *Engine) Ticker() string { return engine.ticker }

// PlaceOrder admits, matches and settles a limit order for acct. Rejections
// leave both the book and the account untouched.
func (engine *Engine) PlaceOrder(acct *account.Account, side Side, price, quantity int64) (Outcome, error) {
	if quantity <= 0 {
		return Outcome{}, ErrInvalidQuantity
	}
	if price <= 0 {
		return Outcome{}, ErrInvalidPrice
	}
	if side != Buy && side != Sell {
		return Outcome{}, ErrInvalidSide
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()

	order := &Order{
		UUID:          uuid.NewString(),
		Sequence:      engine.seq.Next(),
		Ticker:        engine.ticker,
		Side:          side,
		LimitPrice:    price,
		Quantity:      quantity,
		TotalQuantity: quantity,
		Timestamp:     time.Now(),
		Owner:         acct.ID(),
	}
	if err := acct.Admit(order); err != nil {
		return Outcome{}, err
	}
	engine.owners[order.UUID] = acct

	result := engine.book.Submit(order)

	// Forget makers that left the book, and the taker unless it rests.
	for _, fill := range result.Fills {
		maker := fill.SellOrder
		if fill.TakerSide == Sell {
			maker = fill.BuyOrder
		}
		if !engine.book.Has(maker) {
			delete(engine.owners, maker)
		}
	}
	if result.Resting == nil {
		delete(engine.owners, order.UUID)
	}

	log.Debug().
		Str("ticker", engine.ticker).
		Str("uuid", order.UUID).
		Str("owner", order.Owner).
		Stringer("side", side).
		Int64("price", price).
		Int64("quantity", quantity).
		Int("fills", len(result.Fills)).
		Int64("resting", order.Quantity).
		Msg("order processed")

	return Outcome{
		Order:   *order,
		Fills:   result.Fills,
		Resting: order.Quantity,
	}, nil
}

// Cancel removes acct's resting order and releases its reservation. It is a
// no-op returning false if the order has already left the book.
func (engine *Engine) Cancel(acct *account.Account, orderID string) (bool, error) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	owner, ok := engine.owners[orderID]
	if !ok {
		return false, nil
	}
	if owner != acct {
		return false, ErrOrderNotOwned
	}

	if _, ok := engine.book.Cancel(orderID); !ok {
		panic("engine " + engine.ticker + ": owned order " + orderID + " missing from book")
	}
	acct.Release(engine.ticker, orderID)
	delete(engine.owners, orderID)

	log.Debug().Str("ticker", engine.ticker).Str("uuid", orderID).Msg("order cancelled")
	return true, nil
}

func (engine *Engine) Snapshot() BookSnapshot {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.book.Snapshot()
}

func (engine *Engine) LastTradedPrice() (int64, bool) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.book.LastTradedPrice()
}

// settle applies a fill to both accounts. Called by the book while matching,
// so the engine guard is held.
func (engine *Engine) settle(fill Fill) {
	buyer, seller := engine.owners[fill.BuyOrder], engine.owners[fill.SellOrder]
	if buyer == nil || seller == nil {
		panic("engine " + engine.ticker + ": fill between unknown orders " + fill.BuyOrder + " and " + fill.SellOrder)
	}
	account.Settle(fill, buyer, seller)

	log.Info().
		Str("ticker", fill.Ticker).
		Str("buyer", fill.Buyer).
		Str("seller", fill.Seller).
		Int64("price", fill.Price).
		Int64("quantity", fill.Quantity).
		Msg("fill")
}

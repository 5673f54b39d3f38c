package account

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	. "bourse/internal/common"
)

const maxIDLen = 255

// Manager owns every account of an exchange. Accounts are created once and
// never removed.
//
// Trades only move cash and shares between accounts, so the Manager bounds
// the total it has ever issued. No balance can then overflow during
// settlement.
type Manager struct {
	mu             sync.RWMutex
	initialBalance int64
	accounts       map[string]*Account

	cashSupply  int64
	shareSupply map[string]int64 // by ticker
}

func NewManager(initialBalance int64) *Manager {
	return &Manager{
		initialBalance: initialBalance,
		accounts:       make(map[string]*Account),
		shareSupply:    make(map[string]int64),
	}
}

// NormalizeID returns the canonical form of an account id.
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}

// SignUp creates an account funded with the initial balance.
func (m *Manager) SignUp(id string) (*Account, error) {
	id = NormalizeID(id)
	if id == "" || len(id) > maxIDLen {
		return nil, ErrInvalidAccount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[id]; ok {
		return nil, ErrAccountExists
	}
	supply, ok := CheckedAdd(m.cashSupply, m.initialBalance)
	if !ok {
		return nil, fmt.Errorf("%w: cash supply exhausted", ErrInvalidAmount)
	}
	acct := New(id, m.initialBalance)
	m.accounts[id] = acct
	m.cashSupply = supply

	log.Info().Str("account", id).Int64("balance", m.initialBalance).Msg("account created")
	return acct, nil
}

func (m *Manager) Get(id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[NormalizeID(id)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

// Fund adds cash and shares of ticker to an account in one step, keeping the
// total issued within int64. Nothing changes on error.
func (m *Manager) Fund(id string, cash int64, ticker string, quantity int64) error {
	if cash < 0 || quantity < 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[NormalizeID(id)]
	if !ok {
		return ErrAccountNotFound
	}
	cashSupply, ok := CheckedAdd(m.cashSupply, cash)
	if !ok {
		return fmt.Errorf("%w: cash supply exhausted", ErrInvalidAmount)
	}
	shareSupply, ok := CheckedAdd(m.shareSupply[ticker], quantity)
	if !ok {
		return fmt.Errorf("%w: %s supply exhausted", ErrInvalidAmount, ticker)
	}
	if err := acct.Fund(cash, ticker, quantity); err != nil {
		return err
	}

	m.cashSupply = cashSupply
	if quantity > 0 {
		m.shareSupply[ticker] = shareSupply
	}
	log.Info().
		Str("account", acct.ID()).
		Int64("cash", cash).
		Str("ticker", ticker).
		Int64("quantity", quantity).
		Msg("account funded")
	return nil
}

// IDs returns every account id, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

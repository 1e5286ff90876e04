package custody

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryInvoker is an in-process custody contract. It keeps balances per
// account and symbol, answers token info, and logs successful transfers.
// Safe for concurrent use.
type MemoryInvoker struct {
	mu        sync.Mutex
	accounts  map[string]string
	balances  map[string]map[string]decimal.Decimal // account -> symbol -> amount
	tokens    map[string]TokenInfo
	transfers []TransferRequest

	// FailTransfer, when set, is consulted before each transfer; a non-nil
	// result aborts it.
	FailTransfer func(TransferRequest) error
}

// NewMemoryInvoker creates an empty in-process custody contract.
func NewMemoryInvoker() *MemoryInvoker {
	return &MemoryInvoker{
		accounts: make(map[string]string),
		balances: make(map[string]map[string]decimal.Decimal),
		tokens:   make(map[string]TokenInfo),
	}
}

// SetTokenInfo registers token metadata, keyed by both name and symbol.
func (m *MemoryInvoker) SetTokenInfo(info TokenInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[info.Name] = info
	m.tokens[info.Symbol] = info
}

// Mint credits amount of symbol to account.
func (m *MemoryInvoker) Mint(account, symbol string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(account, symbol, amount)
}

// Balance returns the balance of symbol held by account.
func (m *MemoryInvoker) Balance(account, symbol string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account][symbol]
}

// Transfers returns a copy of the successful transfer log.
func (m *MemoryInvoker) Transfers() []TransferRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TransferRequest(nil), m.transfers...)
}

// HasAccount reports whether account.create registered id.
func (m *MemoryInvoker) HasAccount(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accounts[id]
	return ok
}

func (m *MemoryInvoker) InvokeContract(_ context.Context, _ string, function string, args []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch function {
	case FnAccountCreate:
		var req AccountRequest
		if err := json.Unmarshal(args, &req); err != nil || req.ID == "" {
			return nil, fmt.Errorf("%w: invalid account request", ErrContract)
		}
		m.accounts[req.ID] = req.Name
		return json.Marshal(req)

	case FnTransfer:
		var req TransferRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("%w: invalid transfer request: %v", ErrContract, err)
		}
		if m.FailTransfer != nil {
			if err := m.FailTransfer(req); err != nil {
				return nil, err
			}
		}
		if req.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: non-positive amount", ErrContract)
		}
		have := m.balances[req.From][req.Symbol]
		if have.LessThan(req.Amount) {
			return nil, fmt.Errorf("%w: %s holds %s %s, need %s", ErrContract, req.From, have, req.Symbol, req.Amount)
		}
		m.balances[req.From][req.Symbol] = have.Sub(req.Amount)
		m.credit(req.Target, req.Symbol, req.Amount)
		m.transfers = append(m.transfers, req)
		return json.Marshal(req)

	case FnTokenInfo:
		var req tokenInfoRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("%w: invalid token info request", ErrContract)
		}
		info, ok := m.tokens[req.Name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown token %s", ErrContract, req.Name)
		}
		return json.Marshal(info)
	}
	return nil, fmt.Errorf("%w: unknown function %s", ErrContract, function)
}

func (m *MemoryInvoker) credit(account, symbol string, amount decimal.Decimal) {
	b, ok := m.balances[account]
	if !ok {
		b = make(map[string]decimal.Decimal)
		m.balances[account] = b
	}
	b[symbol] = b[symbol].Add(amount)
}

// Snapshot is a saved MemoryInvoker state.
type Snapshot struct {
	accounts  map[string]string
	balances  map[string]map[string]decimal.Decimal
	transfers int
}

// Snapshot captures the current state so a failed invocation can be
// rolled back with Restore.
func (m *MemoryInvoker) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		accounts:  make(map[string]string, len(m.accounts)),
		balances:  make(map[string]map[string]decimal.Decimal, len(m.balances)),
		transfers: len(m.transfers),
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for acct, b := range m.balances {
		c := make(map[string]decimal.Decimal, len(b))
		for sym, amt := range b {
			c[sym] = amt
		}
		s.balances[acct] = c
	}
	return s
}

// Restore rolls the state back to s.
func (m *MemoryInvoker) Restore(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = s.accounts
	m.balances = s.balances
	if s.transfers <= len(m.transfers) {
		m.transfers = m.transfers[:s.transfers]
	}
}

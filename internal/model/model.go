// Package model defines the aggregates persisted in the ledger: users with
// their wallets and bureaus, tokens, and wager markets.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Role is the access role of a user record.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleUser     Role = "user"
	RoleContract Role = "contract"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleContract:
		return true
	}
	return false
}

// ResultUndecided is the result of a market that has not been judged.
const ResultUndecided = "Undecided"

// MaxOptions is the number of outcome slots a market can carry.
const MaxOptions = 5

// MinOptions is the number of slots that must be filled at creation.
const MinOptions = 3

// TransferEntry is one movement recorded in a token's history.
type TransferEntry struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp int64           `json:"timestamp"`
}

// Token is a fixed-precision balance of one named token. The same shape is
// used for the token's ledger metadata and for a wallet's holding of it.
type Token struct {
	Name     string          `json:"name"`
	Symbol   string          `json:"symbol"`
	Decimals int32           `json:"decimals"`
	Amount   decimal.Decimal `json:"amount"`
	History  []TransferEntry `json:"history"`
}

// Wallet maps token name to the user's holding of that token.
type Wallet map[string]*Token

// BetEntry is an append-only record of one stake placed on a market.
type BetEntry struct {
	From         string          `json:"from"`
	TokenName    string          `json:"tokenName"`
	ChooseOption string          `json:"chooseOption"`
	Amount       decimal.Decimal `json:"amount"`
	Timestamp    int64           `json:"timestamp"`
}

// Outcome is one mutually exclusive option of a market and its stake pool.
type Outcome struct {
	Label string
	Pool  decimal.Decimal
}

// Market is a wager with up to MaxOptions outcomes sharing one pool.
// Options are addressed by slot key: option1 .. option5.
type Market struct {
	Name        string
	Creator     string
	Content     string
	CreateTime  int64
	EndTime     string
	TokenName   string
	Options     []Outcome
	JudgePerson string
	Result      string
	Count       decimal.Decimal
	History     []BetEntry
	Users       []string
	Settled     bool
	SettledAt   int64
}

// Bureau is a user-scoped index of snapshots of the markets the user
// created, bet on or judged.
type Bureau map[string]*Market

// User is the identity-keyed aggregate of a wallet and a bureau.
type User struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Role            Role   `json:"role"`
	CanCreateMarket bool   `json:"canCreateNewFutureBureau"`
	CanCreateToken  bool   `json:"canCreateNewToken"`
	Wallet          Wallet `json:"wallet"`
	Bureau          Bureau `json:"bureau"`
}

// MarketRecord is the global index of market names.
type MarketRecord struct {
	BureauNames []string `json:"bureauNames"`
}

// OptionKey returns the slot key for the zero-based option index i.
func OptionKey(i int) string {
	return "option" + strconv.Itoa(i+1)
}

// OptionIndex resolves a slot key to its zero-based index. It does not
// check whether the slot is populated on any particular market.
func OptionIndex(key string) (int, bool) {
	n, ok := strings.CutPrefix(key, "option")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(n)
	if err != nil || i < 1 || i > MaxOptions || strconv.Itoa(i) != n {
		return 0, false
	}
	return i - 1, true
}

// Option returns the outcome filed under slot key, if the market defines it.
func (m *Market) Option(key string) (*Outcome, bool) {
	i, ok := OptionIndex(key)
	if !ok || i >= len(m.Options) || m.Options[i].Label == "" {
		return nil, false
	}
	return &m.Options[i], true
}

// Pool returns the stake pool of the given slot key (zero when undefined).
func (m *Market) Pool(key string) decimal.Decimal {
	if o, ok := m.Option(key); ok {
		return o.Pool
	}
	return decimal.Zero
}

// IsJudged reports whether a result has been recorded.
func (m *Market) IsJudged() bool {
	return m.Result != "" && m.Result != ResultUndecided
}

// AddUser inserts id into the market's participant set.
func (m *Market) AddUser(id string) {
	i := sort.SearchStrings(m.Users, id)
	if i < len(m.Users) && m.Users[i] == id {
		return
	}
	m.Users = append(m.Users, "")
	copy(m.Users[i+1:], m.Users[i:])
	m.Users[i] = id
}

// Clone returns a deep copy, used for bureau snapshots.
func (m *Market) Clone() *Market {
	c := *m
	c.Options = append([]Outcome(nil), m.Options...)
	c.History = append([]BetEntry(nil), m.History...)
	c.Users = append([]string(nil), m.Users...)
	return &c
}

// String implements fmt.Stringer for log output.
func (m *Market) String() string {
	return fmt.Sprintf("market(%s result=%s count=%s settled=%t)", m.Name, m.Result, m.Count, m.Settled)
}

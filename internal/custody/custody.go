// Package custody is the gateway to the external token-custody contract.
// Staked tokens are escrowed in a contract account held by that contract
// and paid out from it at settlement.
package custody

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Custody contract function names.
const (
	FnAccountCreate = "account.create"
	FnTransfer      = "wallet.transfer"
	FnTokenInfo     = "token.getInfo"
)

// ErrContract is returned when the custody contract rejects a call.
var ErrContract = errors.New("custody: contract call failed")

// Invoker performs a synchronous cross-contract call. args is the JSON
// encoded argument object; the result is the raw payload.
type Invoker interface {
	InvokeContract(ctx context.Context, contractID, function string, args []byte) ([]byte, error)
}

// AccountRequest creates a contract-type account on the custody contract.
type AccountRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TransferRequest moves tokens between custody accounts.
type TransferRequest struct {
	Symbol      string          `json:"symbol"`
	From        string          `json:"from"`
	Target      string          `json:"target"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// TokenInfo is the custody contract's metadata of a token, including the
// settlement fee parameters.
type TokenInfo struct {
	Name          string          `json:"name"`
	Symbol        string          `json:"symbol"`
	Decimals      int32           `json:"decimals"`
	GasPercentage decimal.Decimal `json:"gasPercentage"`
	GasMin        decimal.Decimal `json:"gasMin"`
}

type tokenInfoRequest struct {
	Name string `json:"name"`
}

// Client is a typed wrapper over an Invoker bound to one custody contract.
type Client struct {
	inv        Invoker
	contractID string
}

// NewClient creates a client for the custody contract contractID.
func NewClient(inv Invoker, contractID string) *Client {
	return &Client{inv: inv, contractID: contractID}
}

// ContractID returns the custody contract id.
func (c *Client) ContractID() string { return c.contractID }

// CreateAccount registers the contract account id under display name.
func (c *Client) CreateAccount(ctx context.Context, id, name string) error {
	_, err := c.call(ctx, FnAccountCreate, AccountRequest{ID: id, Name: name})
	return err
}

// Transfer issues one token transfer and returns the contract payload.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) ([]byte, error) {
	if req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive transfer amount %s", ErrContract, req.Amount)
	}
	return c.call(ctx, FnTransfer, req)
}

// TokenInfo fetches the metadata of the named token.
func (c *Client) TokenInfo(ctx context.Context, name string) (*TokenInfo, error) {
	payload, err := c.call(ctx, FnTokenInfo, tokenInfoRequest{Name: name})
	if err != nil {
		return nil, err
	}
	var info TokenInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("%w: decode token info: %v", ErrContract, err)
	}
	if info.GasPercentage.IsNegative() || info.GasPercentage.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: gasPercentage %s out of range", ErrContract, info.GasPercentage)
	}
	return &info, nil
}

func (c *Client) call(ctx context.Context, function string, args any) ([]byte, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s args: %w", function, err)
	}
	payload, err := c.inv.InvokeContract(ctx, c.contractID, function, body)
	if err != nil {
		if errors.Is(err, ErrContract) {
			return nil, fmt.Errorf("%s: %w", function, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrContract, function, err)
	}
	return payload, nil
}

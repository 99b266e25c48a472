// Package solana reads reserve and mint balances from a Solana JSON-RPC node.
package solana

import (
	"context"
	"errors"
)

// ErrAccountNotFound is returned when the node has no such account.
var ErrAccountNotFound = errors.New("account not found")

// RPCClient defines the read-only Solana RPC calls used for reconciliation.
type RPCClient interface {
	// GetBalance returns the lamport balance of an account.
	GetBalance(ctx context.Context, address string) (uint64, error)

	// GetTokenAccountBalance returns the balance of an SPL token account.
	GetTokenAccountBalance(ctx context.Context, account string) (*TokenAmount, error)

	// GetTokenSupply returns the total supply of an SPL mint.
	GetTokenSupply(ctx context.Context, mint string) (*TokenAmount, error)
}

// TokenAmount is an SPL token quantity in base units.
type TokenAmount struct {
	Amount   uint64
	Decimals uint8
	Slot     int64
}

var _ RPCClient = (*HTTPClient)(nil)

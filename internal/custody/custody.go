// Package custody defines the external balances the ledger operates against:
// a Reserve of the base asset and a TokenLedger for the issued token.
package custody

import (
	"context"
	"errors"

	"bondcurve-ledger/internal/domain"
)

// ErrInsufficientFunds is returned when a transfer exceeds the source balance.
var ErrInsufficientFunds = errors.New("custody: insufficient funds")

// Reserve holds the base asset backing the token.
type Reserve interface {
	// Balance returns the base units held by the reserve vault.
	Balance(ctx context.Context) (uint64, error)

	// Available returns the base units owner can pay into the reserve.
	Available(ctx context.Context, owner domain.Address) (uint64, error)

	// Receive moves amount from owner into the reserve vault.
	Receive(ctx context.Context, from domain.Address, amount uint64) error

	// Release moves amount from the reserve vault to owner.
	Release(ctx context.Context, to domain.Address, amount uint64) error

	// Decimals returns the base asset's decimal places.
	Decimals() uint8
}

// TokenLedger mints, burns and moves the issued token.
type TokenLedger interface {
	// Supply returns the total issued units.
	Supply(ctx context.Context) (uint64, error)

	// BalanceOf returns the units held by owner.
	BalanceOf(ctx context.Context, owner domain.Address) (uint64, error)

	// Mint creates amount units held by to.
	Mint(ctx context.Context, to domain.Address, amount uint64) error

	// Burn destroys amount units held by from.
	Burn(ctx context.Context, from domain.Address, amount uint64) error

	// Transfer moves amount units between holders.
	Transfer(ctx context.Context, from, to domain.Address, amount uint64) error
}

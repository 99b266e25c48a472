// Package memory provides in-memory custody for tests, simulation and
// single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"bondcurve-ledger/internal/custody"
	"bondcurve-ledger/internal/domain"
)

// Reserve is an in-memory custody.Reserve. Every address has a base-asset
// wallet; the vault address is the reserve.
type Reserve struct {
	mu       sync.RWMutex
	vault    domain.Address
	decimals uint8
	balances map[domain.Address]uint64
}

// NewReserve creates a reserve whose balance is held at vault.
func NewReserve(vault domain.Address, decimals uint8) *Reserve {
	return &Reserve{
		vault:    vault,
		decimals: decimals,
		balances: make(map[domain.Address]uint64),
	}
}

// Compile-time interface check.
var _ custody.Reserve = (*Reserve)(nil)

// Fund credits owner's wallet with amount, outside the ledger.
func (r *Reserve) Fund(owner domain.Address, amount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[owner] += amount
}

// Balance returns the vault balance.
func (r *Reserve) Balance(_ context.Context) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balances[r.vault], nil
}

// Available returns owner's wallet balance.
func (r *Reserve) Available(_ context.Context, owner domain.Address) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balances[owner], nil
}

// Receive moves amount from owner into the vault.
func (r *Reserve) Receive(_ context.Context, from domain.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.move(from, r.vault, amount)
}

// Release moves amount from the vault to owner.
func (r *Reserve) Release(_ context.Context, to domain.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.move(r.vault, to, amount)
}

// Decimals returns the base asset's decimal places.
func (r *Reserve) Decimals() uint8 {
	return r.decimals
}

func (r *Reserve) move(from, to domain.Address, amount uint64) error {
	if r.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", custody.ErrInsufficientFunds, from, r.balances[from], amount)
	}
	r.balances[from] -= amount
	r.balances[to] += amount
	return nil
}

// TokenLedger is an in-memory custody.TokenLedger.
type TokenLedger struct {
	mu       sync.RWMutex
	supply   uint64
	balances map[domain.Address]uint64
}

// NewTokenLedger creates an empty token ledger.
func NewTokenLedger() *TokenLedger {
	return &TokenLedger{
		balances: make(map[domain.Address]uint64),
	}
}

// Compile-time interface check.
var _ custody.TokenLedger = (*TokenLedger)(nil)

// Supply returns the total issued units.
func (l *TokenLedger) Supply(_ context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply, nil
}

// BalanceOf returns the units held by owner.
func (l *TokenLedger) BalanceOf(_ context.Context, owner domain.Address) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[owner], nil
}

// Mint creates amount units held by to.
func (l *TokenLedger) Mint(_ context.Context, to domain.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.supply+amount < l.supply {
		return fmt.Errorf("mint %d: supply overflow", amount)
	}
	l.supply += amount
	l.balances[to] += amount
	return nil
}

// Burn destroys amount units held by from.
func (l *TokenLedger) Burn(_ context.Context, from domain.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return fmt.Errorf("%w: %s holds %d tokens, burn %d", custody.ErrInsufficientFunds, from, l.balances[from], amount)
	}
	l.balances[from] -= amount
	l.supply -= amount
	return nil
}

// Transfer moves amount units between holders.
func (l *TokenLedger) Transfer(_ context.Context, from, to domain.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return fmt.Errorf("%w: %s holds %d tokens, transfer %d", custody.ErrInsufficientFunds, from, l.balances[from], amount)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

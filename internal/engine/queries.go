package engine

import (
	"context"
	"errors"
	"fmt"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/ledger"
	"bondcurve-ledger/internal/liquidation"
	"bondcurve-ledger/internal/pricing"
	"bondcurve-ledger/internal/storage"
)

// Snapshot is the committed ledger state with derived values.
type Snapshot struct {
	Global           *domain.GlobalLedger
	ReserveBalance   uint64
	PoolBalance      uint64 // collateral pool token balance
	Backing          uint64
	Price            uint64 // derived now; 0 before start
	PendingSweepDays int64
	Accounts         domain.ProtocolAccounts
}

// LoanView is a loan with its state at query time.
type LoanView struct {
	Loan  *domain.Loan
	State domain.LoanState
	Value uint64 // sell value of the collateral at the current curve
}

// Snapshot reads the committed state.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.store.GetGlobal(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ledger.ErrNotInitialized
		}
		return nil, fmt.Errorf("load global ledger: %w", err)
	}
	reserve, err := e.reserve.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reserve balance: %w", err)
	}
	pool, err := e.tokens.BalanceOf(ctx, e.accounts.CollateralPool)
	if err != nil {
		return nil, fmt.Errorf("load pool balance: %w", err)
	}

	s := &Snapshot{
		Global:           g,
		ReserveBalance:   reserve,
		PoolBalance:      pool,
		PendingSweepDays: liquidation.PendingDays(g, e.clock().Unix()),
		Accounts:         e.accounts,
	}
	curve, err := pricing.NewCurve(g, reserve)
	if err != nil {
		return nil, err
	}
	s.Backing = curve.Backing
	if g.TokenSupply > 0 {
		if s.Price, err = curve.Price(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Loan returns a user's loan. A user who never borrowed gets an empty loan.
func (e *Engine) Loan(ctx context.Context, user domain.Address) (*LoanView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	loan, err := e.store.GetLoan(ctx, user)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		loan = &domain.Loan{User: user}
	case err != nil:
		return nil, fmt.Errorf("load loan %s: %w", user, err)
	}

	v := &LoanView{Loan: loan, State: loan.State(e.clock().Unix())}
	if loan.Collateral == 0 {
		return v, nil
	}
	g, err := e.store.GetGlobal(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global ledger: %w", err)
	}
	reserve, err := e.reserve.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reserve balance: %w", err)
	}
	curve, err := pricing.NewCurve(g, reserve)
	if err != nil {
		return nil, err
	}
	if v.Value, err = curve.TradeSell(loan.Collateral); err != nil {
		return nil, err
	}
	return v, nil
}

// Buckets returns daily buckets with date in [from, to].
func (e *Engine) Buckets(ctx context.Context, from, to int64) ([]*domain.DailyBucket, error) {
	if from > to {
		return nil, fmt.Errorf("%w: from %d after to %d", ErrInvalidInput, from, to)
	}
	return e.store.ListBuckets(ctx, from, to)
}

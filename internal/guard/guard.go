// Package guard enforces the end-of-operation safety invariants.
package guard

import (
	"errors"
	"fmt"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/pricing"
)

// Invariant errors.
var (
	// ErrCollateralShortfall means the collateral pool holds less than total_collateral.
	ErrCollateralShortfall = errors.New("guard: collateral pool below total collateral")

	// ErrPriceDecrease means the derived price fell below last_price.
	ErrPriceDecrease = errors.New("guard: price decreased")
)

// Balances are the external balances the guard checks against.
type Balances struct {
	Reserve        uint64 // base asset held by the reserve
	CollateralPool uint64 // tokens held by the collateral pool
}

// Result describes a passed check.
type Result struct {
	PreviousPrice uint64
	Price         uint64
}

// Check verifies collateral accounting and price monotonicity against g and,
// on success, records the new price in g.LastPrice. On failure g is untouched.
func Check(g *domain.GlobalLedger, b Balances) (Result, error) {
	if b.CollateralPool < g.TotalCollateral {
		return Result{}, fmt.Errorf("%w: pool %d < total %d", ErrCollateralShortfall, b.CollateralPool, g.TotalCollateral)
	}

	curve, err := pricing.NewCurve(g, b.Reserve)
	if err != nil {
		return Result{}, err
	}
	price, err := curve.Price()
	if err != nil {
		return Result{}, fmt.Errorf("derive price: %w", err)
	}
	if price < g.LastPrice {
		return Result{}, fmt.Errorf("%w: %d < %d", ErrPriceDecrease, price, g.LastPrice)
	}

	res := Result{PreviousPrice: g.LastPrice, Price: price}
	g.LastPrice = price
	return res, nil
}

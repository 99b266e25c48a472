// Package pricing implements the bonding-curve conversions between the base
// asset and the issued token.
//
// Every conversion is evaluated against a Curve snapshot: backing is
// total_borrowed plus the reserve balance, supply is the issued token supply.
// Products are widened to 256 bits before division.
package pricing

import "bondcurve-ledger/internal/domain"

// Curve is a backing/supply snapshot.
type Curve struct {
	Backing uint64
	Supply  uint64
}

// NewCurve builds a curve from the global ledger and the reserve balance.
func NewCurve(g *domain.GlobalLedger, reserveBalance uint64) (Curve, error) {
	backing, err := CheckedAdd(g.TotalBorrowed, reserveBalance)
	if err != nil {
		return Curve{}, err
	}
	return Curve{Backing: backing, Supply: g.TokenSupply}, nil
}

// TradeBuy converts a deposit into tokens. Backing must already include the
// deposit; it is excluded so the buyer does not dilute their own purchase.
// Rounds down.
func (c Curve) TradeBuy(deposit uint64) (uint64, error) {
	if c.Backing <= deposit {
		return 0, ErrDivisionByZero
	}
	return MulDiv(deposit, c.Supply, c.Backing-deposit)
}

// TradeSell converts burned tokens into base units at current backing. Rounds down.
func (c Curve) TradeSell(burn uint64) (uint64, error) {
	return MulDiv(burn, c.Backing, c.Supply)
}

// NoTrade values a base amount in tokens. Rounds down.
func (c Curve) NoTrade(amount uint64) (uint64, error) {
	return MulDiv(amount, c.Supply, c.Backing)
}

// NoTradeCeil values a base amount in tokens, rounding up.
func (c Curve) NoTradeCeil(amount uint64) (uint64, error) {
	return MulDivCeil(amount, c.Supply, c.Backing)
}

// Leverage converts a leveraged amount into collateral tokens with fee
// excluded from backing. Rounds up.
func (c Curve) Leverage(amount, fee uint64) (uint64, error) {
	if c.Backing <= fee {
		return 0, ErrDivisionByZero
	}
	return MulDivCeil(amount, c.Supply, c.Backing-fee)
}

// Price returns backing per token scaled by domain.PricePrecision.
func (c Curve) Price() (uint64, error) {
	return MulDiv(c.Backing, domain.PricePrecision, c.Supply)
}

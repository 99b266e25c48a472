package solana

import (
	"context"
	"fmt"

	"bondcurve-ledger/internal/domain"
)

// Accounts names the on-chain accounts mirrored by the ledger.
type Accounts struct {
	ReserveVault   domain.Address
	CollateralPool domain.Address
	// TokenMint is the mint of the ledger token. Empty skips the supply check.
	TokenMint string
	// ReserveIsToken reads the vault as an SPL token account instead of lamports.
	ReserveIsToken bool
}

// Balances are the ledger-side amounts to compare.
type Balances struct {
	Reserve    uint64
	Collateral uint64
	Supply     uint64
}

// Check is one ledger/chain comparison.
type Check struct {
	Name    string
	Address string
	Ledger  uint64
	Chain   uint64
	Err     error
}

// Match reports whether the chain read succeeded and equals the ledger amount.
func (c Check) Match() bool {
	return c.Err == nil && c.Ledger == c.Chain
}

// ReconcileReport lists every comparison.
type ReconcileReport struct {
	Checks []Check
}

// OK reports whether every check matched.
func (r *ReconcileReport) OK() bool {
	for _, c := range r.Checks {
		if !c.Match() {
			return false
		}
	}
	return true
}

// Reconcile compares ledger balances against the chain. Read failures are
// reported per check; the returned error is only set on context cancellation.
func Reconcile(ctx context.Context, client RPCClient, accounts Accounts, ledger Balances) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	reserve := Check{Name: "reserve", Address: accounts.ReserveVault.String(), Ledger: ledger.Reserve}
	if accounts.ReserveIsToken {
		reserve.Chain, reserve.Err = tokenBalance(ctx, client, reserve.Address)
	} else {
		reserve.Chain, reserve.Err = client.GetBalance(ctx, reserve.Address)
	}
	report.Checks = append(report.Checks, reserve)

	pool := Check{Name: "collateral_pool", Address: accounts.CollateralPool.String(), Ledger: ledger.Collateral}
	pool.Chain, pool.Err = tokenBalance(ctx, client, pool.Address)
	report.Checks = append(report.Checks, pool)

	if accounts.TokenMint != "" {
		supply := Check{Name: "token_supply", Address: accounts.TokenMint, Ledger: ledger.Supply}
		amount, err := client.GetTokenSupply(ctx, accounts.TokenMint)
		if err != nil {
			supply.Err = err
		} else {
			supply.Chain = amount.Amount
		}
		report.Checks = append(report.Checks, supply)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	return report, nil
}

func tokenBalance(ctx context.Context, client RPCClient, account string) (uint64, error) {
	amount, err := client.GetTokenAccountBalance(ctx, account)
	if err != nil {
		return 0, err
	}
	return amount.Amount, nil
}

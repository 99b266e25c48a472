package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/storage/memory"
)

func openLoan(t *testing.T, tx *Tx, user domain.Address, borrowed, collateral uint64, end int64) {
	t.Helper()
	ctx := context.Background()
	l, err := tx.Loan(ctx, user)
	require.NoError(t, err)
	l.Borrowed, l.Collateral, l.EndDate = borrowed, collateral, end
	tx.MarkLoan(l)
	require.NoError(t, tx.AddToBucket(ctx, end, borrowed, collateral))
}

func TestAudit_Consistent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLedgerStore()
	genesis(t, store, day)

	tx, err := Begin(ctx, store)
	require.NoError(t, err)
	openLoan(t, tx, addr(1), 100, 200, 3*day)
	openLoan(t, tx, addr(2), 50, 60, 3*day)
	openLoan(t, tx, addr(3), 7, 9, 5*day)
	require.NoError(t, store.Commit(ctx, tx.Changes(day, nil)))

	r, err := Audit(ctx, store)
	require.NoError(t, err)
	assert.True(t, r.OK(), r.Violations)
	assert.Equal(t, 3, r.LiveLoans)
	assert.Equal(t, uint64(157), r.LoanBorrowed)
	assert.Equal(t, uint64(269), r.BucketCollateral)
}

func TestAudit_SweptLoansIgnored(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLedgerStore()
	genesis(t, store, day)

	tx, err := Begin(ctx, store)
	require.NoError(t, err)
	openLoan(t, tx, addr(1), 100, 200, 2*day)
	openLoan(t, tx, addr(2), 5, 6, 4*day)
	require.NoError(t, store.Commit(ctx, tx.Changes(day, nil)))

	tx, err = Begin(ctx, store)
	require.NoError(t, err)
	_, err = tx.DrainBucket(ctx, 2*day)
	require.NoError(t, err)
	tx.Global().LastLiquidationDate = 3 * day
	require.NoError(t, store.Commit(ctx, tx.Changes(3*day, nil)))

	r, err := Audit(ctx, store)
	require.NoError(t, err)
	assert.True(t, r.OK(), r.Violations)
	assert.Equal(t, 1, r.LiveLoans)
}

func TestAudit_DetectsDrift(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLedgerStore()
	genesis(t, store, day)

	tx, err := Begin(ctx, store)
	require.NoError(t, err)
	openLoan(t, tx, addr(1), 100, 200, 3*day)
	// loan grows without its bucket
	l, err := tx.Loan(ctx, addr(1))
	require.NoError(t, err)
	l.Borrowed += 1
	tx.MarkLoan(l)
	require.NoError(t, store.Commit(ctx, tx.Changes(day, nil)))

	r, err := Audit(ctx, store)
	require.NoError(t, err)
	assert.False(t, r.OK())
	assert.Len(t, r.Violations, 2)
}

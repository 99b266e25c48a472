package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/storage"
)

func testAddress(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	a[31] = b
	return a
}

func TestLedgerStore_EmptyReturnsNotFound(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	_, err := store.GetGlobal(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetLoan(ctx, testAddress(1))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetBucket(ctx, 86400)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLedgerStore_CommitAndRead(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()
	user := testAddress(1)

	cs := &domain.ChangeSet{
		Global:    &domain.GlobalLedger{Version: 1, TokenSupply: 100, TotalBorrowed: 10, TotalCollateral: 20},
		Loans:     []*domain.Loan{{User: user, Borrowed: 10, Collateral: 20, EndDate: 86400 * 3, TermDays: 2}},
		Buckets:   []*domain.DailyBucket{{Date: 86400 * 3, Borrowed: 10, Collateral: 20}},
		Operation: &domain.OperationRecord{OperationID: "op-1", Kind: domain.OpBorrow, User: user, Timestamp: 50},
	}
	require.NoError(t, store.Commit(ctx, cs))

	g, err := store.GetGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), g.TokenSupply)

	l, err := store.GetLoan(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), l.Borrowed)

	b, err := store.GetBucket(ctx, 86400*3)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), b.Collateral)

	buckets, err := store.ListBuckets(ctx, 0, 86400*10)
	require.NoError(t, err)
	assert.Len(t, buckets, 1)

	ops := store.Operations()
	op, err := ops.GetByID(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OpBorrow, op.Kind)

	byUser, err := ops.GetByUser(ctx, user)
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	byTime, err := ops.GetByTimeRange(ctx, 100, 200)
	require.NoError(t, err)
	assert.Empty(t, byTime)
}

func TestLedgerStore_CommitRejectsStaleVersion(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, &domain.ChangeSet{Global: &domain.GlobalLedger{Version: 1}}))

	err := store.Commit(ctx, &domain.ChangeSet{
		Global: &domain.GlobalLedger{Version: 1, TokenSupply: 5},
		Loans:  []*domain.Loan{{User: testAddress(2), Borrowed: 1}},
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = store.GetLoan(ctx, testAddress(2))
	assert.ErrorIs(t, err, storage.ErrNotFound, "rejected commit must not write")
}

func TestLedgerStore_CommitRejectsDuplicateOperation(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()

	op := &domain.OperationRecord{OperationID: "dup"}
	require.NoError(t, store.Commit(ctx, &domain.ChangeSet{Global: &domain.GlobalLedger{Version: 1}, Operation: op}))

	err := store.Commit(ctx, &domain.ChangeSet{Global: &domain.GlobalLedger{Version: 2}, Operation: op})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	g, err := store.GetGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), g.Version)
}

func TestLedgerStore_ReadsAreCopies(t *testing.T) {
	store := NewLedgerStore()
	ctx := context.Background()
	user := testAddress(3)

	require.NoError(t, store.Commit(ctx, &domain.ChangeSet{
		Global: &domain.GlobalLedger{Version: 1},
		Loans:  []*domain.Loan{{User: user, Borrowed: 7}},
	}))

	l, err := store.GetLoan(ctx, user)
	require.NoError(t, err)
	l.Borrowed = 99

	again, err := store.GetLoan(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), again.Borrowed)
}

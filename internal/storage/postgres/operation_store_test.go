package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/storage"
)

// commitOps journals one operation per version after genesis.
func commitOps(t *testing.T, store *LedgerStore, ops []*domain.OperationRecord) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, genesisSet()))
	g, err := store.GetGlobal(ctx)
	require.NoError(t, err)

	for _, op := range ops {
		g = g.Clone()
		g.Version++
		op.Sequence = g.Version
		op.OperationID = fmt.Sprintf("op-%d", g.Version)
		require.NoError(t, store.Commit(ctx, &domain.ChangeSet{Global: g, Operation: op}))
	}
}

func TestOperationStore_GetByUser(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ledger := NewLedgerStore(pool)
	commitOps(t, ledger, []*domain.OperationRecord{
		{Kind: domain.OpBuy, User: addr(1), BaseIn: 10, Timestamp: 100},
		{Kind: domain.OpBuy, User: addr(2), BaseIn: 20, Timestamp: 200},
		{Kind: domain.OpSell, User: addr(1), TokensIn: 5, Timestamp: 300},
	})

	store := NewOperationStore(pool)
	ops, err := store.GetByUser(context.Background(), addr(1))
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, domain.OpBuy, ops[0].Kind)
	assert.Equal(t, domain.OpSell, ops[1].Kind)
	assert.Less(t, ops[0].Sequence, ops[1].Sequence)
	assert.Nil(t, ops[0].Referrer)

	ops, err = store.GetByUser(context.Background(), addr(7))
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestOperationStore_GetByTimeRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ledger := NewLedgerStore(pool)
	commitOps(t, ledger, []*domain.OperationRecord{
		{Kind: domain.OpBuy, User: addr(1), Timestamp: 100},
		{Kind: domain.OpBorrow, User: addr(1), Timestamp: 200},
		{Kind: domain.OpRepay, User: addr(1), Timestamp: 300},
	})

	store := NewOperationStore(pool)
	ops, err := store.GetByTimeRange(context.Background(), 150, 300)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, domain.OpBorrow, ops[0].Kind)
	assert.Equal(t, domain.OpRepay, ops[1].Kind)
}

func TestOperationStore_GetByID_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewOperationStore(pool).GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

package liquidation

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/ledger"
	"bondcurve-ledger/internal/storage/memory"
)

const day = domain.SecondsPerDay

type recordingBurner struct {
	burned []uint64
	err    error
}

func (b *recordingBurner) BurnCollateral(_ context.Context, amount uint64) error {
	if b.err != nil {
		return b.err
	}
	b.burned = append(b.burned, amount)
	return nil
}

// setup creates a ledger with the cursor at day 1 and buckets on days 1 and 3.
func setup(t *testing.T) (*memory.LedgerStore, *ledger.Tx) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewLedgerStore()

	tx, err := ledger.Genesis(ctx, store, domain.FeeParams{}, 0)
	require.NoError(t, err)
	tx.Global().TokenSupply = 10_000
	require.NoError(t, tx.AddToBucket(ctx, 1*day, 100, 1_000))
	require.NoError(t, tx.AddToBucket(ctx, 3*day, 50, 500))
	require.NoError(t, store.Commit(ctx, tx.Changes(0, nil)))

	tx, err = ledger.Begin(ctx, store)
	require.NoError(t, err)
	require.Equal(t, int64(1*day), tx.Global().LastLiquidationDate)
	return store, tx
}

func TestSweep_CatchesUp(t *testing.T) {
	_, tx := setup(t)
	burner := &recordingBurner{}
	s := NewSweeper(zerolog.Nop())

	r, err := s.Sweep(context.Background(), tx, burner, 3*day+1, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, r.Days)
	assert.Equal(t, uint64(150), r.Borrowed)
	assert.Equal(t, uint64(1_500), r.Collateral)
	assert.Equal(t, int64(4*day), r.Cursor)
	assert.Equal(t, []uint64{1_000, 500}, burner.burned)

	g := tx.Global()
	assert.Zero(t, g.TotalBorrowed)
	assert.Zero(t, g.TotalCollateral)
	assert.Equal(t, uint64(8_500), g.TokenSupply)
}

func TestSweep_OneDayLimit(t *testing.T) {
	_, tx := setup(t)
	burner := &recordingBurner{}
	s := NewSweeper(zerolog.Nop())

	r, err := s.Sweep(context.Background(), tx, burner, 10*day, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Days)
	assert.Equal(t, int64(2*day), r.Cursor)
	assert.Equal(t, uint64(50), tx.Global().TotalBorrowed)

	assert.Equal(t, int64(8), PendingDays(tx.Global(), 10*day))
}

func TestSweep_NoOpWhenCaughtUp(t *testing.T) {
	_, tx := setup(t)
	burner := &recordingBurner{}
	s := NewSweeper(zerolog.Nop())

	r, err := s.Sweep(context.Background(), tx, burner, 1*day, 0)
	require.NoError(t, err)
	assert.Zero(t, r.Days)
	assert.Empty(t, burner.burned)
	assert.False(t, tx.Dirty())
	assert.Zero(t, PendingDays(tx.Global(), 1*day))
}

func TestSweep_BucketOnCursorDayExpiresAfterMidnight(t *testing.T) {
	_, tx := setup(t)
	s := NewSweeper(zerolog.Nop())

	// A loan ending at day 1 is still live at exactly day 1.
	r, err := s.Sweep(context.Background(), tx, &recordingBurner{}, 1*day, 0)
	require.NoError(t, err)
	assert.Zero(t, r.Days)

	r, err = s.Sweep(context.Background(), tx, &recordingBurner{}, 1*day+1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Days)
	assert.Equal(t, uint64(100), r.Borrowed)
}

func TestSweep_BurnFailure(t *testing.T) {
	_, tx := setup(t)
	burner := &recordingBurner{err: errors.New("pool frozen")}
	s := NewSweeper(zerolog.Nop())

	_, err := s.Sweep(context.Background(), tx, burner, 2*day, 0)
	assert.ErrorContains(t, err, "pool frozen")
}

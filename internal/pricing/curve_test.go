package pricing

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondcurve-ledger/internal/domain"
)

func TestCurve_TradeBuy_Example(t *testing.T) {
	c := Curve{Backing: 1_000_000, Supply: 1_000_000}

	gross, err := c.TradeBuy(100_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(111_111), gross)

	net, err := MulDiv(gross, 975, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(108_333), net)
}

func TestCurve_Modes(t *testing.T) {
	c := Curve{Backing: 3_000, Supply: 1_000}

	tests := []struct {
		name string
		fn   func() (uint64, error)
		want uint64
	}{
		{"trade sell floors", func() (uint64, error) { return c.TradeSell(7) }, 21},
		{"no trade floors", func() (uint64, error) { return c.NoTrade(100) }, 33},
		{"no trade ceil rounds up", func() (uint64, error) { return c.NoTradeCeil(100) }, 34},
		{"no trade ceil exact", func() (uint64, error) { return c.NoTradeCeil(99) }, 33},
		{"leverage excludes fee", func() (uint64, error) { return c.Leverage(1_000, 1_000) }, 500},
		{"leverage rounds up", func() (uint64, error) { return c.Leverage(1_001, 1_000) }, 501},
		{"price", func() (uint64, error) { return c.Price() }, 3 * domain.PricePrecision},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCurve_DivisionByZero(t *testing.T) {
	empty := Curve{}

	_, err := empty.TradeSell(1)
	assert.ErrorIs(t, err, ErrDivisionByZero)
	_, err = empty.NoTrade(1)
	assert.ErrorIs(t, err, ErrDivisionByZero)
	_, err = empty.NoTradeCeil(1)
	assert.ErrorIs(t, err, ErrDivisionByZero)
	_, err = empty.Price()
	assert.ErrorIs(t, err, ErrDivisionByZero)

	c := Curve{Backing: 100, Supply: 100}
	_, err = c.TradeBuy(100)
	assert.ErrorIs(t, err, ErrDivisionByZero, "deposit equal to backing leaves nothing to price against")
	_, err = c.Leverage(10, 100)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestCurve_WidenedIntermediate(t *testing.T) {
	c := Curve{Backing: math.MaxUint64, Supply: math.MaxUint64}

	got, err := c.TradeSell(math.MaxUint64 / 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64/2), got)

	small := Curve{Backing: 1, Supply: math.MaxUint64}
	_, err = small.NoTrade(2)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestNewCurve_Overflow(t *testing.T) {
	g := &domain.GlobalLedger{TotalBorrowed: math.MaxUint64, TokenSupply: 1}
	_, err := NewCurve(g, 1)
	assert.ErrorIs(t, err, ErrOverflow)

	g.TotalBorrowed = 40
	c, err := NewCurve(g, 60)
	require.NoError(t, err)
	assert.Equal(t, Curve{Backing: 100, Supply: 1}, c)
}

func TestCurve_NoTradeCeilNeverBelowFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		c := Curve{
			Backing: 1 + uint64(rng.Int63n(1<<50)),
			Supply:  1 + uint64(rng.Int63n(1<<23)),
		}
		amount := uint64(rng.Int63n(1 << 40))

		floor, err := c.NoTrade(amount)
		require.NoError(t, err)
		ceil, err := c.NoTradeCeil(amount)
		require.NoError(t, err)

		if (amount*c.Supply)%c.Backing == 0 {
			assert.Equal(t, floor, ceil)
		} else {
			assert.Equal(t, floor+1, ceil)
		}
	}
}

func TestCurve_BuySellRoundTripNeverCreatesValue(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 2000; i++ {
		backing := 1_000 + uint64(rng.Int63n(1<<40))
		supply := 1_000 + uint64(rng.Int63n(1<<40))
		deposit := 1 + uint64(rng.Int63n(1<<36))

		// deposit lands in the reserve before pricing
		before := Curve{Backing: backing + deposit, Supply: supply}
		minted, err := before.TradeBuy(deposit)
		require.NoError(t, err)

		after := Curve{Backing: backing + deposit, Supply: supply + minted}
		back, err := after.TradeSell(minted)
		require.NoError(t, err)

		assert.LessOrEqual(t, back, deposit)
	}
}

func TestSaturatingSub(t *testing.T) {
	assert.Equal(t, uint64(0), SaturatingSub(1, 2))
	assert.Equal(t, uint64(1), SaturatingSub(3, 2))
}

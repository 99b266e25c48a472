package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondcurve-ledger/internal/custody"
	custodymem "bondcurve-ledger/internal/custody/memory"
	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/fees"
	"bondcurve-ledger/internal/ledger"
	"bondcurve-ledger/internal/storage/memory"
)

const (
	day   = domain.SecondsPerDay
	t0    = int64(1_700_000_000) // 80,000s past midnight
	unit  = uint64(1_000_000_000)
	purse = 1_000 * unit
)

var programID = domain.MustParseAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

func addr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	return a
}

var (
	admin       = addr(0xAD)
	feeReceiver = addr(0xFE)
	alice       = addr(0xA1)
	bob         = addr(0xB0)
)

type harness struct {
	t        *testing.T
	ctx      context.Context
	now      int64
	engine   *Engine
	store    *memory.LedgerStore
	reserve  *custodymem.Reserve
	tokens   *custodymem.TokenLedger
	accounts domain.ProtocolAccounts
}

// newHarness builds an initialized, started engine. Admin, alice and bob
// hold purse base units each.
func newHarness(t *testing.T, configure ...func(*harness, *Options)) *harness {
	t.Helper()
	accounts, err := domain.DeriveProtocolAccounts(programID)
	require.NoError(t, err)

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		now:      t0,
		store:    memory.NewLedgerStore(),
		reserve:  custodymem.NewReserve(accounts.ReserveVault, 9),
		tokens:   custodymem.NewTokenLedger(),
		accounts: accounts,
	}
	for _, a := range []domain.Address{admin, alice, bob} {
		h.reserve.Fund(a, purse)
	}

	opts := Options{
		Store:       h.store,
		Reserve:     h.reserve,
		Tokens:      h.tokens,
		Accounts:    accounts,
		Admin:       admin,
		FeeReceiver: feeReceiver,
		InitialFees: fees.DefaultParams(),
		Clock:       func() time.Time { return time.Unix(h.now, 0) },
		Logger:      zerolog.Nop(),
	}
	for _, c := range configure {
		c(h, &opts)
	}
	h.engine, err = New(opts)
	require.NoError(t, err)

	_, err = h.engine.Init(h.ctx)
	require.NoError(t, err)
	_, err = h.engine.Start(h.ctx, StartRequest{Admin: admin, Deposit: unit})
	require.NoError(t, err)
	return h
}

func (h *harness) global() *domain.GlobalLedger {
	h.t.Helper()
	g, err := h.store.GetGlobal(h.ctx)
	require.NoError(h.t, err)
	return g
}

func (h *harness) wallet(a domain.Address) uint64 {
	h.t.Helper()
	v, err := h.reserve.Available(h.ctx, a)
	require.NoError(h.t, err)
	return v
}

func (h *harness) holding(a domain.Address) uint64 {
	h.t.Helper()
	v, err := h.tokens.BalanceOf(h.ctx, a)
	require.NoError(h.t, err)
	return v
}

func (h *harness) reserveBalance() uint64 {
	h.t.Helper()
	v, err := h.reserve.Balance(h.ctx)
	require.NoError(h.t, err)
	return v
}

func (h *harness) loan(a domain.Address) *domain.Loan {
	h.t.Helper()
	v, err := h.engine.Loan(h.ctx, a)
	require.NoError(h.t, err)
	return v.Loan
}

// requireConsistent checks bookkeeping that must hold after every commit.
func (h *harness) requireConsistent() {
	h.t.Helper()
	g := h.global()

	report, err := ledger.Audit(h.ctx, h.store)
	require.NoError(h.t, err)
	require.True(h.t, report.OK(), report.Violations)

	supply, err := h.tokens.Supply(h.ctx)
	require.NoError(h.t, err)
	require.Equal(h.t, g.TokenSupply, supply, "token supply mirror")
	require.GreaterOrEqual(h.t, h.holding(h.accounts.CollateralPool), g.TotalCollateral, "collateral pool")
}

func (h *harness) buy(user domain.Address, deposit uint64) *domain.OperationRecord {
	h.t.Helper()
	rec, err := h.engine.Buy(h.ctx, BuyRequest{User: user, Deposit: deposit})
	require.NoError(h.t, err)
	return rec
}

func TestNew_Validation(t *testing.T) {
	accounts, err := domain.DeriveProtocolAccounts(programID)
	require.NoError(t, err)
	base := Options{
		Store:       memory.NewLedgerStore(),
		Reserve:     custodymem.NewReserve(accounts.ReserveVault, 9),
		Tokens:      custodymem.NewTokenLedger(),
		Accounts:    accounts,
		InitialFees: fees.DefaultParams(),
	}

	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr error
	}{
		{name: "valid", mutate: func(*Options) {}},
		{name: "missing store", mutate: func(o *Options) { o.Store = nil }, wantErr: ErrInvalidInput},
		{name: "missing pool", mutate: func(o *Options) { o.Accounts = domain.ProtocolAccounts{} }, wantErr: ErrInvalidInput},
		{name: "buy fee too low", mutate: func(o *Options) { o.InitialFees.BuyFee = 974 }, wantErr: fees.ErrInvalidBuyFee},
		{name: "sell fee too high", mutate: func(o *Options) { o.InitialFees.SellFee = 993 }, wantErr: fees.ErrInvalidSellFee},
		{name: "leverage fee too high", mutate: func(o *Options) { o.InitialFees.BuyFeeLeverage = 26 }, wantErr: fees.ErrInvalidLeverageFee},
		{name: "referral share", mutate: func(o *Options) { o.ReferralShare = 101 }, wantErr: fees.ErrInvalidReferralShare},
		{name: "negative sweep limit", mutate: func(o *Options) { o.SweepLimit = -1 }, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			_, err := New(opts)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEngine_InitAndStart(t *testing.T) {
	ctx := context.Background()
	accounts, err := domain.DeriveProtocolAccounts(programID)
	require.NoError(t, err)
	store := memory.NewLedgerStore()
	reserve := custodymem.NewReserve(accounts.ReserveVault, 9)
	reserve.Fund(admin, purse)
	reserve.Fund(alice, purse)
	tokens := custodymem.NewTokenLedger()

	e, err := New(Options{
		Store:       store,
		Reserve:     reserve,
		Tokens:      tokens,
		Accounts:    accounts,
		Admin:       admin,
		FeeReceiver: feeReceiver,
		InitialFees: fees.DefaultParams(),
		Clock:       func() time.Time { return time.Unix(t0, 0) },
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	_, err = e.Buy(ctx, BuyRequest{User: alice, Deposit: unit})
	assert.ErrorIs(t, err, ledger.ErrNotInitialized)

	g, err := e.Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_006_400), g.LastLiquidationDate)
	assert.Equal(t, fees.DefaultParams(), g.Fees)
	assert.False(t, g.Started)

	_, err = e.Init(ctx)
	assert.ErrorIs(t, err, ledger.ErrAlreadyInitialized)
	require.NoError(t, e.EnsureInit(ctx))

	_, err = e.Buy(ctx, BuyRequest{User: alice, Deposit: unit})
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Equal(t, CategoryState, CategoryOf(err))

	_, err = e.Start(ctx, StartRequest{Admin: alice, Deposit: unit})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, CategoryValidation, CategoryOf(err))

	_, err = e.Start(ctx, StartRequest{Admin: admin, Deposit: unit - 1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	rec, err := e.Start(ctx, StartRequest{Admin: admin, Deposit: unit})
	require.NoError(t, err)
	assert.Equal(t, domain.OpStart, rec.Kind)
	assert.Equal(t, uint64(2), rec.Sequence)
	assert.Equal(t, domain.PricePrecision, rec.PriceAfter)
	assert.Len(t, rec.OperationID, 64)

	g, err = store.GetGlobal(ctx)
	require.NoError(t, err)
	assert.True(t, g.Started)
	assert.Equal(t, unit, g.TokenSupply)
	assert.Equal(t, domain.PricePrecision, g.LastPrice)

	held, _ := tokens.BalanceOf(ctx, admin)
	assert.Equal(t, unit, held)

	_, err = e.Start(ctx, StartRequest{Admin: admin, Deposit: unit})
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestEngine_Buy(t *testing.T) {
	h := newHarness(t)

	rec := h.buy(alice, unit)

	assert.Equal(t, unit, rec.BaseIn)
	assert.Equal(t, uint64(975_000_000), rec.TokensOut)
	assert.Equal(t, uint64(7_500_000), rec.ProtocolFee)
	assert.Zero(t, rec.ReferralFee)
	assert.Equal(t, domain.PricePrecision, rec.PriceBefore)
	assert.Equal(t, uint64(1_008_860_759), rec.PriceAfter)

	assert.Equal(t, purse-unit, h.wallet(alice))
	assert.Equal(t, uint64(975_000_000), h.holding(alice))
	assert.Equal(t, uint64(7_500_000), h.wallet(feeReceiver))
	assert.Equal(t, uint64(1_992_500_000), h.reserveBalance())

	g := h.global()
	assert.Equal(t, uint64(1_975_000_000), g.TokenSupply)
	assert.Equal(t, uint64(1_008_860_759), g.LastPrice)

	journaled, err := h.store.Operations().GetByID(h.ctx, rec.OperationID)
	require.NoError(t, err)
	assert.Equal(t, rec.Sequence, journaled.Sequence)
	assert.Equal(t, alice, journaled.User)
	h.requireConsistent()
}

func TestEngine_BuyReferral(t *testing.T) {
	h := newHarness(t)

	ref := bob
	rec, err := h.engine.Buy(h.ctx, BuyRequest{User: alice, Deposit: unit, Referrer: &ref})
	require.NoError(t, err)
	assert.Equal(t, uint64(6_000_000), rec.ProtocolFee)
	assert.Equal(t, uint64(1_500_000), rec.ReferralFee)
	require.NotNil(t, rec.Referrer)
	assert.Equal(t, bob, *rec.Referrer)
	assert.Equal(t, purse+1_500_000, h.wallet(bob))

	self := alice
	_, err = h.engine.Buy(h.ctx, BuyRequest{User: alice, Deposit: unit, Referrer: &self})
	assert.ErrorIs(t, err, ErrInvalidReferral)
}

func TestEngine_BuyRejections(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*harness, *Options)
		req       BuyRequest
		wantErr   error
		category  Category
	}{
		{
			name:     "zero deposit",
			req:      BuyRequest{User: alice},
			wantErr:  ErrInvalidInput,
			category: CategoryValidation,
		},
		{
			name:     "slippage",
			req:      BuyRequest{User: alice, Deposit: unit, MinOut: 975_000_001},
			wantErr:  ErrOutputTooSmall,
			category: CategoryValidation,
		},
		{
			name:     "dust fee",
			req:      BuyRequest{User: alice, Deposit: 100_000},
			wantErr:  fees.ErrFeeTooSmall,
			category: CategoryValidation,
		},
		{
			name:     "insufficient funds",
			req:      BuyRequest{User: alice, Deposit: purse + 1},
			wantErr:  custody.ErrInsufficientFunds,
			category: CategoryResource,
		},
		{
			name:      "max supply",
			configure: func(_ *harness, o *Options) { o.MaxSupply = 1_500_000_000 },
			req:       BuyRequest{User: alice, Deposit: unit},
			wantErr:   ErrMaxSupplyExceeded,
			category:  CategoryResource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var configure []func(*harness, *Options)
			if tt.configure != nil {
				configure = append(configure, tt.configure)
			}
			h := newHarness(t, configure...)
			before := h.global()

			_, err := h.engine.Buy(h.ctx, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.category, CategoryOf(err))

			var opErr *OperationError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, domain.OpBuy, opErr.Kind)

			assert.Equal(t, before, h.global(), "aborted buy must not touch the ledger")
			assert.Equal(t, purse, h.wallet(alice))
			assert.Zero(t, h.holding(alice))
		})
	}
}

func TestEngine_Sell(t *testing.T) {
	h := newHarness(t)
	h.buy(alice, unit)

	rec, err := h.engine.Sell(h.ctx, SellRequest{User: alice, Amount: 975_000_000})
	require.NoError(t, err)
	assert.Equal(t, uint64(959_048_259), rec.BaseOut)
	assert.Equal(t, uint64(7_377_294), rec.ProtocolFee)
	assert.Equal(t, uint64(1_026_074_447), rec.PriceAfter)

	assert.Zero(t, h.holding(alice))
	assert.Equal(t, purse-unit+959_048_259, h.wallet(alice))
	assert.Equal(t, unit, h.global().TokenSupply)
	h.requireConsistent()

	_, err = h.engine.Sell(h.ctx, SellRequest{User: alice, Amount: 1_000})
	assert.Error(t, err)

	_, err = h.engine.Sell(h.ctx, SellRequest{User: admin, Amount: 500_000_000, MinOut: unit})
	assert.ErrorIs(t, err, ErrOutputTooSmall)
}

func TestEngine_QuoteDoesNotCommit(t *testing.T) {
	h := newHarness(t)
	before := h.global()

	// carol holds nothing; quotes skip caller balance checks
	carol := addr(0xCA)
	q, err := h.engine.QuoteBuy(h.ctx, BuyRequest{User: carol, Deposit: unit})
	require.NoError(t, err)
	assert.Equal(t, uint64(975_000_000), q.TokensOut)
	assert.Len(t, q.OperationID, 64)

	assert.Equal(t, before, h.global())
	assert.Equal(t, unit, h.reserveBalance())

	rec := h.buy(alice, unit)
	assert.Equal(t, q.TokensOut, rec.TokensOut)
	assert.Equal(t, q.PriceAfter, rec.PriceAfter)
}

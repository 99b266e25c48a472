// Package simulation drives a seeded random workload through an in-memory
// engine and checks the ledger invariants after every step.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	custodymem "bondcurve-ledger/internal/custody/memory"
	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/engine"
	"bondcurve-ledger/internal/fees"
	"bondcurve-ledger/internal/ledger"
	"bondcurve-ledger/internal/storage/memory"
	"bondcurve-ledger/internal/verification"
)

// Runner errors
var (
	ErrInvariantViolated = errors.New("simulation: invariant violated")
)

const (
	baseUnit     = uint64(1_000_000_000)
	startTime    = int64(1_700_000_000)
	maxStepHours = 8
)

var programID = domain.MustParseAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Seed       int64
	Steps      int
	Users      int              // default 5
	Funding    uint64           // base units per user, default 1,000 whole units
	Fees       domain.FeeParams // default fees.DefaultParams
	SweepLimit int
	Logger     zerolog.Logger
}

// Summary reports a finished run.
type Summary struct {
	Seed       int64
	Steps      int
	Committed  map[domain.OperationKind]int
	Aborted    map[engine.Category]int
	StartPrice uint64
	FinalPrice uint64
	Final      *engine.Snapshot
	SimulatedS int64 // simulated seconds elapsed
}

// Runner executes a randomized workload.
type Runner struct {
	opts RunnerOptions
	rng  *rand.Rand

	now      int64
	store    *memory.LedgerStore
	reserve  *custodymem.Reserve
	tokens   *custodymem.TokenLedger
	accounts domain.ProtocolAccounts
	engine   *engine.Engine

	admin       domain.Address
	feeReceiver domain.Address
	users       []domain.Address
	funded      uint64
	lastPrice   uint64
}

// NewRunner creates a simulation runner.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Users <= 0 {
		opts.Users = 5
	}
	if opts.Funding == 0 {
		opts.Funding = 1_000 * baseUnit
	}
	if opts.Fees == (domain.FeeParams{}) {
		opts.Fees = fees.DefaultParams()
	}
	return &Runner{
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
	}
}

func address(role, i byte) domain.Address {
	var a domain.Address
	a[0] = role
	a[1] = i
	return a
}

func (r *Runner) setup(ctx context.Context) error {
	accounts, err := domain.DeriveProtocolAccounts(programID)
	if err != nil {
		return err
	}
	r.now = startTime
	r.accounts = accounts
	r.store = memory.NewLedgerStore()
	r.reserve = custodymem.NewReserve(accounts.ReserveVault, 9)
	r.tokens = custodymem.NewTokenLedger()
	r.admin = address(0xAD, 0)
	r.feeReceiver = address(0xFE, 0)

	r.reserve.Fund(r.admin, r.opts.Funding)
	r.funded = r.opts.Funding
	for i := 0; i < r.opts.Users; i++ {
		u := address(0x01, byte(i))
		r.users = append(r.users, u)
		r.reserve.Fund(u, r.opts.Funding)
		r.funded += r.opts.Funding
	}

	r.engine, err = engine.New(engine.Options{
		Store:       r.store,
		Reserve:     r.reserve,
		Tokens:      r.tokens,
		Accounts:    accounts,
		Admin:       r.admin,
		FeeReceiver: r.feeReceiver,
		InitialFees: r.opts.Fees,
		SweepLimit:  r.opts.SweepLimit,
		Clock:       func() time.Time { return time.Unix(r.now, 0) },
		Logger:      r.opts.Logger,
	})
	if err != nil {
		return err
	}
	if _, err := r.engine.Init(ctx); err != nil {
		return err
	}
	rec, err := r.engine.Start(ctx, engine.StartRequest{Admin: r.admin, Deposit: baseUnit})
	if err != nil {
		return err
	}
	r.lastPrice = rec.PriceAfter
	return nil
}

// Run executes the configured number of steps. It stops at the first
// invariant violation.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if err := r.setup(ctx); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	s := &Summary{
		Seed:       r.opts.Seed,
		Committed:  make(map[domain.OperationKind]int),
		Aborted:    make(map[engine.Category]int),
		StartPrice: r.lastPrice,
	}

	for step := 0; step < r.opts.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		version, err := r.version(ctx)
		if err != nil {
			return s, err
		}

		kind, rec, opErr := r.step(ctx)
		s.Steps++
		switch {
		case opErr != nil:
			category := engine.CategoryOf(opErr)
			if category == engine.CategoryInternal || category == engine.CategoryConflict {
				return s, fmt.Errorf("step %d %s: unexpected failure: %w", step, kind, opErr)
			}
			s.Aborted[category]++
			after, err := r.version(ctx)
			if err != nil {
				return s, err
			}
			if after != version {
				return s, fmt.Errorf("%w: step %d %s aborted but ledger moved to version %d", ErrInvariantViolated, step, kind, after)
			}
			r.opts.Logger.Debug().Int("step", step).Str("kind", string(kind)).Err(opErr).Msg("aborted")
		case rec.OperationID != "":
			s.Committed[kind]++
			if rec.PriceAfter < r.lastPrice {
				return s, fmt.Errorf("%w: step %d %s price %d < %d", ErrInvariantViolated, step, kind, rec.PriceAfter, r.lastPrice)
			}
			r.lastPrice = rec.PriceAfter
		}

		if err := r.check(ctx); err != nil {
			return s, fmt.Errorf("step %d %s: %w", step, kind, err)
		}
		r.advance()
	}

	journal, err := verification.NewJournalVerifier(r.store.Operations()).VerifyAll(ctx)
	if err != nil {
		return s, err
	}
	if !journal.OK() {
		return s, fmt.Errorf("%w: journal sequence %d: %v", ErrInvariantViolated, journal.Results[0].Sequence, journal.Results[0].Divergences)
	}

	snap, err := r.engine.Snapshot(ctx)
	if err != nil {
		return s, err
	}
	s.Final = snap
	s.FinalPrice = snap.Global.LastPrice
	s.SimulatedS = r.now - startTime
	return s, nil
}

// Store returns the ledger store of the last run, nil before Run.
func (r *Runner) Store() *memory.LedgerStore {
	return r.store
}

func (r *Runner) version(ctx context.Context) (uint64, error) {
	g, err := r.store.GetGlobal(ctx)
	if err != nil {
		return 0, err
	}
	return g.Version, nil
}

// advance moves the clock forward by up to maxStepHours, and now and then by days.
func (r *Runner) advance() {
	r.now += r.rng.Int63n(maxStepHours*3600 + 1)
	if r.rng.Intn(20) == 0 {
		r.now += (1 + r.rng.Int63n(5)) * domain.SecondsPerDay
	}
}

// between returns a value in [lo, hi].
func (r *Runner) between(lo, hi uint64) uint64 {
	if hi <= lo {
		return lo
	}
	return lo + uint64(r.rng.Int63n(int64(hi-lo+1)))
}

// fraction returns v scaled by a random percentage in [lo, hi].
func (r *Runner) fraction(v uint64, lo, hi uint64) uint64 {
	return v / 100 * r.between(lo, hi)
}

func (r *Runner) step(ctx context.Context) (domain.OperationKind, *domain.OperationRecord, error) {
	user := r.users[r.rng.Intn(len(r.users))]
	held, err := r.tokens.BalanceOf(ctx, user)
	if err != nil {
		return "", nil, err
	}
	view, err := r.engine.Loan(ctx, user)
	if err != nil {
		return "", nil, err
	}
	loan := view.Loan
	e := r.engine

	switch r.rng.Intn(12) {
	case 0, 1, 2:
		deposit := r.between(baseUnit/20, 3*baseUnit)
		rec, err := e.Buy(ctx, engine.BuyRequest{User: user, Deposit: deposit})
		return domain.OpBuy, rec, err
	case 3:
		rec, err := e.Sell(ctx, engine.SellRequest{User: user, Amount: r.fraction(held, 10, 90)})
		return domain.OpSell, rec, err
	case 4:
		req := engine.LeverageRequest{User: user, Deposit: r.between(baseUnit/10, 2*baseUnit), Days: r.between(0, 60)}
		rec, err := e.Leverage(ctx, req)
		return domain.OpLeverage, rec, err
	case 5:
		value := held / 100 * (r.lastPrice / 10_000_000)
		req := engine.BorrowRequest{User: user, Amount: r.fraction(value, 20, 90), Days: r.between(1, 60)}
		rec, err := e.Borrow(ctx, req)
		return domain.OpBorrow, rec, err
	case 6:
		rec, err := e.BorrowMore(ctx, engine.BorrowMoreRequest{User: user, Amount: r.between(baseUnit/100, baseUnit/2)})
		return domain.OpBorrowMore, rec, err
	case 7:
		req := engine.RemoveCollateralRequest{User: user, Amount: r.fraction(loan.Collateral, 1, 10)}
		rec, err := e.RemoveCollateral(ctx, req)
		return domain.OpRemoveCollateral, rec, err
	case 8:
		rec, err := e.Repay(ctx, engine.RepayRequest{User: user, Amount: r.fraction(loan.Borrowed, 10, 90)})
		return domain.OpRepay, rec, err
	case 9:
		if r.rng.Intn(2) == 0 {
			rec, err := e.ClosePosition(ctx, user)
			return domain.OpClosePosition, rec, err
		}
		rec, err := e.FlashClosePosition(ctx, user)
		return domain.OpFlashClose, rec, err
	case 10:
		req := engine.ExtendLoanRequest{User: user, Days: r.between(1, 30)}
		quote, err := e.QuoteExtendLoan(ctx, req)
		if err != nil {
			return domain.OpExtendLoan, nil, err
		}
		req.Payment = quote.BaseIn
		rec, err := e.ExtendLoan(ctx, req)
		return domain.OpExtendLoan, rec, err
	default:
		rec, err := e.Liquidate(ctx, user)
		return domain.OpLiquidate, rec, err
	}
}

// check verifies conservation and accounting invariants against custody.
func (r *Runner) check(ctx context.Context) error {
	g, err := r.store.GetGlobal(ctx)
	if err != nil {
		return err
	}

	report, err := ledger.Audit(ctx, r.store)
	if err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%w: %v", ErrInvariantViolated, report.Violations)
	}

	supply, err := r.tokens.Supply(ctx)
	if err != nil {
		return err
	}
	if supply != g.TokenSupply {
		return fmt.Errorf("%w: token supply %d, ledger %d", ErrInvariantViolated, supply, g.TokenSupply)
	}
	pool, err := r.tokens.BalanceOf(ctx, r.accounts.CollateralPool)
	if err != nil {
		return err
	}
	if pool < g.TotalCollateral {
		return fmt.Errorf("%w: pool %d < total collateral %d", ErrInvariantViolated, pool, g.TotalCollateral)
	}

	total, err := r.reserve.Balance(ctx)
	if err != nil {
		return err
	}
	holders := append([]domain.Address{r.admin, r.feeReceiver}, r.users...)
	for _, a := range holders {
		bal, err := r.reserve.Available(ctx, a)
		if err != nil {
			return err
		}
		total += bal
	}
	if total != r.funded {
		return fmt.Errorf("%w: base asset %d, funded %d", ErrInvariantViolated, total, r.funded)
	}
	return nil
}

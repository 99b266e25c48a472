// Package engine runs ledger operations: each handler sweeps expired buckets,
// mutates a ledger transaction and a custody transaction, passes the safety
// guard and commits everything or nothing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bondcurve-ledger/internal/custody"
	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/fees"
	"bondcurve-ledger/internal/guard"
	"bondcurve-ledger/internal/idhash"
	"bondcurve-ledger/internal/ledger"
	"bondcurve-ledger/internal/liquidation"
	"bondcurve-ledger/internal/observability"
	"bondcurve-ledger/internal/pricing"
	"bondcurve-ledger/internal/storage"
)

// Options configures an Engine.
type Options struct {
	Store    storage.LedgerStore
	Reserve  custody.Reserve
	Tokens   custody.TokenLedger
	Accounts domain.ProtocolAccounts

	Admin       domain.Address // only caller allowed to Start
	FeeReceiver domain.Address // receives the protocol cut

	InitialFees   domain.FeeParams // written by Init
	ReferralShare uint64           // percent of the protocol cut paid to a referrer, 0 means default
	MaxSupply     uint64           // 0 means unlimited
	SweepLimit    int              // max bucket days swept per operation, 0 means unlimited

	Clock     func() time.Time
	Logger    zerolog.Logger
	Observers []Observer
}

// Engine serializes ledger operations.
type Engine struct {
	mu sync.Mutex

	store       storage.LedgerStore
	reserve     custody.Reserve
	tokens      custody.TokenLedger
	accounts    domain.ProtocolAccounts
	admin       domain.Address
	feeReceiver domain.Address

	initialFees   domain.FeeParams
	referralShare uint64
	maxSupply     uint64
	sweepLimit    int

	clock     func() time.Time
	logger    zerolog.Logger
	sweeper   *liquidation.Sweeper
	observers []Observer
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Reserve == nil || opts.Tokens == nil {
		return nil, fmt.Errorf("%w: store, reserve and tokens are required", ErrInvalidInput)
	}
	if opts.Accounts.CollateralPool.IsZero() {
		return nil, fmt.Errorf("%w: collateral pool address is required", ErrInvalidInput)
	}
	if err := fees.ValidateParams(opts.InitialFees); err != nil {
		return nil, err
	}
	share := opts.ReferralShare
	if share == 0 {
		share = fees.DefaultReferralSharePercent
	}
	if share > 100 {
		return nil, fees.ErrInvalidReferralShare
	}
	if opts.SweepLimit < 0 {
		return nil, fmt.Errorf("%w: negative sweep limit", ErrInvalidInput)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		store:         opts.Store,
		reserve:       opts.Reserve,
		tokens:        opts.Tokens,
		accounts:      opts.Accounts,
		admin:         opts.Admin,
		feeReceiver:   opts.FeeReceiver,
		initialFees:   opts.InitialFees,
		referralShare: share,
		maxSupply:     opts.MaxSupply,
		sweepLimit:    opts.SweepLimit,
		clock:         clock,
		logger:        opts.Logger.With().Str("component", "engine").Logger(),
		sweeper:       liquidation.NewSweeper(opts.Logger),
		observers:     opts.Observers,
	}, nil
}

// AddObserver registers an observer notified after every commit.
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Init creates the global ledger with the configured fee parameters.
// Returns ledger.ErrAlreadyInitialized if it exists.
func (e *Engine) Init(ctx context.Context) (*domain.GlobalLedger, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock().Unix()
	tx, err := ledger.Genesis(ctx, e.store, e.initialFees, now)
	if err != nil {
		return nil, err
	}
	cs := tx.Changes(now, nil)
	if err := e.store.Commit(ctx, cs); err != nil {
		return nil, fmt.Errorf("commit genesis: %w", err)
	}

	e.logger.Info().
		Int64("last_liquidation_date", cs.Global.LastLiquidationDate).
		Uint64("buy_fee", cs.Global.Fees.BuyFee).
		Uint64("sell_fee", cs.Global.Fees.SellFee).
		Uint64("buy_fee_leverage", cs.Global.Fees.BuyFeeLeverage).
		Msg("ledger initialized")
	return cs.Global.Clone(), nil
}

// EnsureInit initializes the ledger unless it already exists.
func (e *Engine) EnsureInit(ctx context.Context) error {
	_, err := e.Init(ctx)
	if errors.Is(err, ledger.ErrAlreadyInitialized) {
		return nil
	}
	return err
}

// opContext is the working state of one operation.
type opContext struct {
	now     int64
	tx      *ledger.Tx
	custody *custodyTx
	calc    *fees.Calculator
	rec     *domain.OperationRecord

	// noop skips the guard and the commit
	noop bool
}

func (op *opContext) global() *domain.GlobalLedger {
	return op.tx.Global()
}

// curve returns the pricing snapshot at the staged reserve balance.
func (op *opContext) curve() (pricing.Curve, error) {
	return pricing.NewCurve(op.tx.Global(), op.custody.ReserveBalance())
}

type handlerFunc func(ctx context.Context, op *opContext) error

// run executes fn under the engine lock. In quote mode nothing is committed
// and caller balances are not checked.
func (e *Engine) run(ctx context.Context, kind domain.OperationKind, user domain.Address, quote bool, fn handlerFunc) (*domain.OperationRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	at := e.clock()

	ev, err := e.execute(ctx, kind, user, at, quote, fn)
	if quote {
		if err != nil {
			return nil, &OperationError{Kind: kind, Category: classify(err), Err: err}
		}
		return ev.Record, nil
	}

	seconds := time.Since(started).Seconds()
	if err != nil {
		category := classify(err)
		observability.RecordOperation(string(kind), "error", seconds)
		observability.RecordOperationError(string(kind), string(category))
		if reason := guardReason(err); reason != "" {
			observability.RecordGuardFailure(reason)
		}
		e.logger.Warn().
			Str("kind", string(kind)).
			Str("user", user.String()).
			Str("category", string(category)).
			Err(err).
			Msg("operation aborted")
		return nil, &OperationError{Kind: kind, Category: category, Err: err}
	}

	rec := ev.Record
	if ev.committed {
		observability.RecordOperation(string(kind), "ok", seconds)
		observability.RecordFees(string(kind), rec.ProtocolFee, rec.ReferralFee)
		g := ev.Global
		observability.UpdateLedgerState(g.LastPrice, g.TokenSupply, g.TotalBorrowed, g.TotalCollateral, ev.ReserveBalance, g.Version)
		observability.UpdateSweepLag(liquidation.PendingDays(g, rec.Timestamp))
		for _, o := range e.observers {
			o.OnCommit(ctx, *ev)
		}
		e.logger.Info().
			Str("kind", string(kind)).
			Str("user", user.String()).
			Str("operation_id", rec.OperationID).
			Uint64("sequence", rec.Sequence).
			Uint64("price", rec.PriceAfter).
			Int("swept_days", rec.SweptDays).
			Msg("operation committed")
	} else {
		observability.RecordOperation(string(kind), "noop", seconds)
	}
	return rec, nil
}

func (e *Engine) execute(ctx context.Context, kind domain.OperationKind, user domain.Address, at time.Time, quote bool, fn handlerFunc) (*CommitEvent, error) {
	now := at.Unix()

	tx, err := ledger.Begin(ctx, e.store)
	if err != nil {
		return nil, err
	}
	g := tx.Global()
	if kind != domain.OpStart && !g.Started {
		return nil, ErrNotStarted
	}

	ct, err := newCustodyTx(ctx, e.reserve, e.tokens, e.accounts.CollateralPool, quote)
	if err != nil {
		return nil, err
	}
	calc, err := fees.NewCalculator(g.Fees, fees.WithReferralShare(e.referralShare))
	if err != nil {
		return nil, err
	}

	op := &opContext{
		now:     now,
		tx:      tx,
		custody: ct,
		calc:    calc,
		rec: &domain.OperationRecord{
			Kind:        kind,
			User:        user,
			PriceBefore: g.LastPrice,
			Timestamp:   now,
		},
	}

	if kind != domain.OpStart && kind != domain.OpLiquidate {
		report, err := e.sweeper.Sweep(ctx, tx, ct, now, e.sweepLimit)
		if err != nil {
			return nil, fmt.Errorf("sweep: %w", err)
		}
		observeSweep(report, quote)
		op.rec.SweptDays = report.Days
	}

	if err := fn(ctx, op); err != nil {
		return nil, err
	}

	ev := &CommitEvent{Record: op.rec, TimestampMs: at.UnixMilli()}
	if op.noop {
		op.rec.Sequence = g.Version
		op.rec.PriceAfter = g.LastPrice
		ev.Global = g.Clone()
		ev.ReserveBalance = ct.ReserveBalance()
		return ev, nil
	}

	pool, err := ct.PoolBalance(ctx)
	if err != nil {
		return nil, err
	}
	res, err := guard.Check(g, guard.Balances{Reserve: ct.ReserveBalance(), CollateralPool: pool})
	if err != nil {
		return nil, err
	}
	op.rec.PriceAfter = res.Price

	cs := tx.Changes(now, op.rec)
	op.rec.OperationID = idhash.ComputeOperationID(kind, user, op.rec.Sequence, now)
	ev.Global = cs.Global.Clone()
	ev.ReserveBalance = ct.ReserveBalance()
	if quote {
		return ev, nil
	}

	if err := e.commit(ctx, ct, cs); err != nil {
		return nil, err
	}
	ev.committed = true
	return ev, nil
}

// commit applies custody effects, then the change set. Applied effects are
// reverted when a later step fails.
func (e *Engine) commit(ctx context.Context, ct *custodyTx, cs *domain.ChangeSet) error {
	applied, err := ct.apply(ctx)
	if err == nil {
		if err = e.store.Commit(ctx, cs); err != nil {
			err = fmt.Errorf("commit change set: %w", err)
		}
	}
	if err == nil {
		return nil
	}

	if rerr := ct.revert(context.WithoutCancel(ctx), applied); rerr != nil {
		observability.RecordCompensationError()
		e.logger.Error().Err(rerr).Msg("custody left inconsistent after failed commit")
		return errors.Join(err, rerr)
	}
	return err
}

func observeSweep(r liquidation.Report, quote bool) {
	if quote {
		return
	}
	observability.RecordSweep(r.Days, r.Borrowed, r.Collateral)
}

// routeFee pays a protocol cut to the fee receiver and, when referrer is set,
// the referral share to the referrer.
func (e *Engine) routeFee(ctx context.Context, op *opContext, cut uint64, referrer *domain.Address) error {
	receiverShare, referrerShare := op.calc.Split(cut, referrer != nil)
	if err := op.custody.Release(ctx, e.feeReceiver, receiverShare); err != nil {
		return fmt.Errorf("pay fee receiver: %w", err)
	}
	if referrerShare > 0 {
		if err := op.custody.Release(ctx, *referrer, referrerShare); err != nil {
			return fmt.Errorf("pay referrer: %w", err)
		}
	}
	op.rec.ProtocolFee = receiverShare
	op.rec.ReferralFee = referrerShare
	if referrer != nil {
		r := *referrer
		op.rec.Referrer = &r
	}
	return nil
}

// mintSupply raises the ledger supply, enforcing the cap.
func (e *Engine) mintSupply(op *opContext, amount uint64) error {
	g := op.global()
	supply, err := pricing.CheckedAdd(g.TokenSupply, amount)
	if err != nil {
		return err
	}
	if e.maxSupply > 0 && supply > e.maxSupply {
		return fmt.Errorf("%w: %d > %d", ErrMaxSupplyExceeded, supply, e.maxSupply)
	}
	g.TokenSupply = supply
	return nil
}

// termDays converts a positive span of seconds into whole days.
func termDays(seconds int64) uint64 {
	if seconds <= 0 {
		return 0
	}
	return uint64(seconds / domain.SecondsPerDay)
}

func pow10(decimals uint8) uint64 {
	if decimals > 19 {
		return math.MaxUint64
	}
	v := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		v *= 10
	}
	return v
}

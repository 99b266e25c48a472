// Package ledger owns loan records and daily expiry buckets.
//
// A Tx is a write overlay over storage.LedgerStore: reads fall through to the
// store once and are cached, writes stay in the overlay until Changes hands
// them to LedgerStore.Commit. Global totals are only ever adjusted together
// with a bucket, so total_borrowed and total_collateral always equal the sum
// of unswept buckets.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/pricing"
	"bondcurve-ledger/internal/storage"
)

// Ledger state errors.
var (
	ErrNotInitialized     = errors.New("ledger: not initialized")
	ErrAlreadyInitialized = errors.New("ledger: already initialized")
	ErrNoActiveLoan       = errors.New("ledger: no active loan")
	ErrLoanExpired        = errors.New("ledger: loan expired")
	ErrActiveLoanExists   = errors.New("ledger: user has an active loan")
	ErrUnalignedDate      = errors.New("ledger: bucket date is not midnight aligned")
)

// Tx is a single-operation view of the ledger.
type Tx struct {
	store       storage.LedgerStore
	global      *domain.GlobalLedger
	baseVersion uint64

	loans      map[domain.Address]*domain.Loan
	dirtyLoans map[domain.Address]struct{}

	buckets      map[int64]*domain.DailyBucket
	dirtyBuckets map[int64]struct{}
}

func newTx(store storage.LedgerStore, global *domain.GlobalLedger) *Tx {
	return &Tx{
		store:        store,
		global:       global,
		baseVersion:  global.Version,
		loans:        make(map[domain.Address]*domain.Loan),
		dirtyLoans:   make(map[domain.Address]struct{}),
		buckets:      make(map[int64]*domain.DailyBucket),
		dirtyBuckets: make(map[int64]struct{}),
	}
}

// Begin opens a transaction over the stored global ledger.
func Begin(ctx context.Context, store storage.LedgerStore) (*Tx, error) {
	g, err := store.GetGlobal(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("load global ledger: %w", err)
	}
	return newTx(store, g.Clone()), nil
}

// Genesis opens a transaction that creates the global ledger.
// Returns ErrAlreadyInitialized if one is stored.
func Genesis(ctx context.Context, store storage.LedgerStore, fees domain.FeeParams, now int64) (*Tx, error) {
	_, err := store.GetGlobal(ctx)
	if err == nil {
		return nil, ErrAlreadyInitialized
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load global ledger: %w", err)
	}
	return newTx(store, &domain.GlobalLedger{
		LastLiquidationDate: domain.NextMidnight(now),
		Fees:                fees,
	}), nil
}

// Global returns the working copy of the global ledger.
func (tx *Tx) Global() *domain.GlobalLedger {
	return tx.global
}

// Loan returns the working copy of a user's loan, empty if none is stored.
func (tx *Tx) Loan(ctx context.Context, user domain.Address) (*domain.Loan, error) {
	if l, ok := tx.loans[user]; ok {
		return l, nil
	}
	l, err := tx.store.GetLoan(ctx, user)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		l = &domain.Loan{User: user}
	case err != nil:
		return nil, fmt.Errorf("load loan %s: %w", user, err)
	default:
		l = l.Clone()
	}
	tx.loans[user] = l
	return l, nil
}

// ActiveLoan returns the user's loan if it is live at now.
func (tx *Tx) ActiveLoan(ctx context.Context, user domain.Address, now int64) (*domain.Loan, error) {
	l, err := tx.Loan(ctx, user)
	if err != nil {
		return nil, err
	}
	switch l.State(now) {
	case domain.LoanStateEmpty:
		return nil, ErrNoActiveLoan
	case domain.LoanStateExpired:
		return nil, ErrLoanExpired
	}
	return l, nil
}

// OpenableLoan returns the user's loan ready to be opened. An expired loan
// whose bucket has been swept is reset to empty. One still awaiting the sweep
// returns ErrLoanExpired.
func (tx *Tx) OpenableLoan(ctx context.Context, user domain.Address, now int64) (*domain.Loan, error) {
	l, err := tx.Loan(ctx, user)
	if err != nil {
		return nil, err
	}
	switch l.State(now) {
	case domain.LoanStateActive:
		return nil, ErrActiveLoanExists
	case domain.LoanStateExpired:
		if l.EndDate >= tx.global.LastLiquidationDate {
			return nil, fmt.Errorf("%w: bucket %d not yet swept", ErrLoanExpired, l.EndDate)
		}
		l.Reset()
		tx.MarkLoan(l)
	}
	return l, nil
}

// MarkLoan records a loan as modified.
func (tx *Tx) MarkLoan(l *domain.Loan) {
	tx.loans[l.User] = l
	tx.dirtyLoans[l.User] = struct{}{}
}

// Bucket returns the working copy of the bucket for date, empty if none is stored.
func (tx *Tx) Bucket(ctx context.Context, date int64) (*domain.DailyBucket, error) {
	if date%domain.SecondsPerDay != 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnalignedDate, date)
	}
	if b, ok := tx.buckets[date]; ok {
		return b, nil
	}
	b, err := tx.store.GetBucket(ctx, date)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b = &domain.DailyBucket{Date: date}
	case err != nil:
		return nil, fmt.Errorf("load bucket %d: %w", date, err)
	default:
		c := *b
		b = &c
	}
	tx.buckets[date] = b
	return b, nil
}

// AddToBucket adds a loan contribution to the bucket at date and to the global totals.
func (tx *Tx) AddToBucket(ctx context.Context, date int64, borrowed, collateral uint64) error {
	b, err := tx.Bucket(ctx, date)
	if err != nil {
		return err
	}
	if b.Borrowed, err = pricing.CheckedAdd(b.Borrowed, borrowed); err != nil {
		return err
	}
	if b.Collateral, err = pricing.CheckedAdd(b.Collateral, collateral); err != nil {
		return err
	}
	if tx.global.TotalBorrowed, err = pricing.CheckedAdd(tx.global.TotalBorrowed, borrowed); err != nil {
		return err
	}
	if tx.global.TotalCollateral, err = pricing.CheckedAdd(tx.global.TotalCollateral, collateral); err != nil {
		return err
	}
	tx.dirtyBuckets[date] = struct{}{}
	return nil
}

// SubFromBucket removes a loan contribution from the bucket at date and from
// the global totals. Subtraction saturates at zero.
func (tx *Tx) SubFromBucket(ctx context.Context, date int64, borrowed, collateral uint64) error {
	b, err := tx.Bucket(ctx, date)
	if err != nil {
		return err
	}
	b.Borrowed = pricing.SaturatingSub(b.Borrowed, borrowed)
	b.Collateral = pricing.SaturatingSub(b.Collateral, collateral)
	tx.global.TotalBorrowed = pricing.SaturatingSub(tx.global.TotalBorrowed, borrowed)
	tx.global.TotalCollateral = pricing.SaturatingSub(tx.global.TotalCollateral, collateral)
	tx.dirtyBuckets[date] = struct{}{}
	return nil
}

// MoveBucket re-buckets a loan contribution from one date to another.
// The old bucket is reduced before the new one grows.
func (tx *Tx) MoveBucket(ctx context.Context, from, to int64, borrowed, collateral uint64) error {
	if err := tx.SubFromBucket(ctx, from, borrowed, collateral); err != nil {
		return err
	}
	return tx.AddToBucket(ctx, to, borrowed, collateral)
}

// DrainBucket zeroes the bucket at date, removes its contribution from the
// global totals and returns what was drained.
func (tx *Tx) DrainBucket(ctx context.Context, date int64) (domain.DailyBucket, error) {
	b, err := tx.Bucket(ctx, date)
	if err != nil {
		return domain.DailyBucket{}, err
	}
	drained := *b
	if b.IsEmpty() {
		return drained, nil
	}
	tx.global.TotalBorrowed = pricing.SaturatingSub(tx.global.TotalBorrowed, b.Borrowed)
	tx.global.TotalCollateral = pricing.SaturatingSub(tx.global.TotalCollateral, b.Collateral)
	b.Borrowed = 0
	b.Collateral = 0
	tx.dirtyBuckets[date] = struct{}{}
	return drained, nil
}

// Dirty reports whether the transaction modified anything besides the global ledger.
func (tx *Tx) Dirty() bool {
	return len(tx.dirtyLoans) > 0 || len(tx.dirtyBuckets) > 0
}

// Changes returns the write set with the global version bumped.
func (tx *Tx) Changes(now int64, op *domain.OperationRecord) *domain.ChangeSet {
	g := tx.global.Clone()
	g.Version = tx.baseVersion + 1
	g.UpdatedAt = now

	cs := &domain.ChangeSet{Global: g, Operation: op}
	for user := range tx.dirtyLoans {
		cs.Loans = append(cs.Loans, tx.loans[user].Clone())
	}
	sort.Slice(cs.Loans, func(i, j int) bool {
		return string(cs.Loans[i].User[:]) < string(cs.Loans[j].User[:])
	})
	for date := range tx.dirtyBuckets {
		b := *tx.buckets[date]
		cs.Buckets = append(cs.Buckets, &b)
	}
	sort.Slice(cs.Buckets, func(i, j int) bool {
		return cs.Buckets[i].Date < cs.Buckets[j].Date
	})
	if op != nil {
		op.Sequence = g.Version
	}
	return cs
}

package storage

import (
	"context"

	"bondcurve-ledger/internal/domain"
)

// LedgerStore provides access to the global ledger, loans and daily buckets.
type LedgerStore interface {
	// GetGlobal retrieves the global ledger. Returns ErrNotFound before initialization.
	GetGlobal(ctx context.Context) (*domain.GlobalLedger, error)

	// GetLoan retrieves a user's loan. Returns ErrNotFound if the user never opened one.
	GetLoan(ctx context.Context, user domain.Address) (*domain.Loan, error)

	// GetBucket retrieves the bucket for a midnight date. Returns ErrNotFound if none exists.
	GetBucket(ctx context.Context, date int64) (*domain.DailyBucket, error)

	// ListLoans retrieves all loans, ordered by user address.
	ListLoans(ctx context.Context) ([]*domain.Loan, error)

	// ListBuckets retrieves buckets with date in [from, to] (inclusive), ordered by date ASC.
	ListBuckets(ctx context.Context, from, to int64) ([]*domain.DailyBucket, error)

	// Commit atomically writes a change set. The stored global version must equal
	// cs.Global.Version-1 (or be absent when cs.Global.Version is 1), otherwise
	// ErrConflict is returned and nothing is written.
	Commit(ctx context.Context, cs *domain.ChangeSet) error
}

// OperationStore provides read access to the operation journal written by LedgerStore.Commit.
type OperationStore interface {
	// GetByID retrieves an operation by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, operationID string) (*domain.OperationRecord, error)

	// GetByUser retrieves all operations of a user, ordered by sequence ASC.
	GetByUser(ctx context.Context, user domain.Address) ([]*domain.OperationRecord, error)

	// GetByTimeRange retrieves operations with timestamp in [start, end] (inclusive), ordered by sequence ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.OperationRecord, error)
}

// PricePointStore provides access to post-operation price samples.
type PricePointStore interface {
	// InsertBulk adds multiple points. Fails entire batch on duplicate sequence.
	InsertBulk(ctx context.Context, points []*domain.PricePoint) error

	// GetByTimeRange retrieves points within [start, end] (inclusive, unix ms), ordered by sequence ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.PricePoint, error)
}

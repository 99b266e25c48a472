package memory

import (
	"context"
	"sort"
	"sync"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.LedgerStore.
// Committed operations are journaled and readable through Operations.
type LedgerStore struct {
	mu      sync.RWMutex
	global  *domain.GlobalLedger
	loans   map[domain.Address]*domain.Loan
	buckets map[int64]*domain.DailyBucket

	ops     []*domain.OperationRecord
	opIndex map[string]int
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		loans:   make(map[domain.Address]*domain.Loan),
		buckets: make(map[int64]*domain.DailyBucket),
		opIndex: make(map[string]int),
	}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// GetGlobal retrieves the global ledger. Returns ErrNotFound before initialization.
func (s *LedgerStore) GetGlobal(_ context.Context) (*domain.GlobalLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.global == nil {
		return nil, storage.ErrNotFound
	}
	return s.global.Clone(), nil
}

// GetLoan retrieves a user's loan. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetLoan(_ context.Context, user domain.Address) (*domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.loans[user]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return l.Clone(), nil
}

// GetBucket retrieves the bucket at date. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetBucket(_ context.Context, date int64) (*domain.DailyBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[date]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *b
	return &copy, nil
}

// ListLoans retrieves all loans ordered by user address.
func (s *LedgerStore) ListLoans(_ context.Context) ([]*domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Loan, 0, len(s.loans))
	for _, l := range s.loans {
		result = append(result, l.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return string(result[i].User[:]) < string(result[j].User[:])
	})
	return result, nil
}

// ListBuckets retrieves buckets with date in [from, to], ordered by date ASC.
func (s *LedgerStore) ListBuckets(_ context.Context, from, to int64) ([]*domain.DailyBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DailyBucket
	for date, b := range s.buckets {
		if date >= from && date <= to {
			copy := *b
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})
	return result, nil
}

// Commit atomically applies a change set after checking the global version.
func (s *LedgerStore) Commit(_ context.Context, cs *domain.ChangeSet) error {
	if cs == nil || cs.Global == nil || cs.Global.Version == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current uint64
	if s.global != nil {
		current = s.global.Version
	}
	if cs.Global.Version != current+1 {
		return storage.ErrConflict
	}
	if cs.Operation != nil {
		if cs.Operation.OperationID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.opIndex[cs.Operation.OperationID]; exists {
			return storage.ErrDuplicateKey
		}
	}

	s.global = cs.Global.Clone()
	for _, l := range cs.Loans {
		s.loans[l.User] = l.Clone()
	}
	for _, b := range cs.Buckets {
		copy := *b
		s.buckets[b.Date] = &copy
	}
	if cs.Operation != nil {
		copy := *cs.Operation
		s.opIndex[copy.OperationID] = len(s.ops)
		s.ops = append(s.ops, &copy)
	}
	return nil
}

// Operations returns a read view over the operation journal.
func (s *LedgerStore) Operations() *OperationStore {
	return &OperationStore{ledger: s}
}

// OperationStore is an in-memory implementation of storage.OperationStore.
type OperationStore struct {
	ledger *LedgerStore
}

// Compile-time interface check.
var _ storage.OperationStore = (*OperationStore)(nil)

// GetByID retrieves an operation by its ID. Returns ErrNotFound if not exists.
func (s *OperationStore) GetByID(_ context.Context, operationID string) (*domain.OperationRecord, error) {
	s.ledger.mu.RLock()
	defer s.ledger.mu.RUnlock()

	idx, ok := s.ledger.opIndex[operationID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *s.ledger.ops[idx]
	return &copy, nil
}

// GetByUser retrieves all operations of a user, ordered by sequence ASC.
func (s *OperationStore) GetByUser(_ context.Context, user domain.Address) ([]*domain.OperationRecord, error) {
	return s.filter(func(op *domain.OperationRecord) bool {
		return op.User == user
	}), nil
}

// GetByTimeRange retrieves operations with timestamp in [start, end], ordered by sequence ASC.
func (s *OperationStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.OperationRecord, error) {
	return s.filter(func(op *domain.OperationRecord) bool {
		return op.Timestamp >= start && op.Timestamp <= end
	}), nil
}

func (s *OperationStore) filter(keep func(*domain.OperationRecord) bool) []*domain.OperationRecord {
	s.ledger.mu.RLock()
	defer s.ledger.mu.RUnlock()

	var result []*domain.OperationRecord
	for _, op := range s.ledger.ops {
		if keep(op) {
			copy := *op
			result = append(result, &copy)
		}
	}
	return result
}

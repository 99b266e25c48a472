package memory

import (
	"context"
	"sort"
	"sync"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/storage"
)

// PricePointStore is an in-memory implementation of storage.PricePointStore.
type PricePointStore struct {
	mu   sync.RWMutex
	data map[uint64]*domain.PricePoint // keyed by sequence
}

// NewPricePointStore creates a new in-memory price point store.
func NewPricePointStore() *PricePointStore {
	return &PricePointStore{
		data: make(map[uint64]*domain.PricePoint),
	}
}

// Compile-time interface check.
var _ storage.PricePointStore = (*PricePointStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate.
func (s *PricePointStore) InsertBulk(_ context.Context, points []*domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[uint64]struct{}, len(points))

	for _, p := range points {
		if p == nil || p.Sequence == 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[p.Sequence]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[p.Sequence]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[p.Sequence] = struct{}{}
	}

	for _, p := range points {
		pointCopy := *p
		s.data[p.Sequence] = &pointCopy
	}

	return nil
}

// GetByTimeRange retrieves points within [start, end] (unix ms), ordered by sequence ASC.
func (s *PricePointStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PricePoint
	for _, p := range s.data {
		if p.TimestampMs >= start && p.TimestampMs <= end {
			pointCopy := *p
			result = append(result, &pointCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Sequence < result[j].Sequence
	})

	return result, nil
}

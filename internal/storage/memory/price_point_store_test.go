package memory

import (
	"context"
	"errors"
	"testing"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/storage"
)

func TestPricePointStore_InsertBulkAndGet(t *testing.T) {
	store := NewPricePointStore()
	ctx := context.Background()

	points := []*domain.PricePoint{
		{Sequence: 2, TimestampMs: 2000, Kind: domain.OpBuy, Price: 1_100_000_000},
		{Sequence: 1, TimestampMs: 1000, Kind: domain.OpStart, Price: 1_000_000_000},
	}

	if err := store.InsertBulk(ctx, points); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetByTimeRange(ctx, 0, 5000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(result))
	}
	if result[0].Sequence != 1 || result[1].Sequence != 2 {
		t.Errorf("Expected sequence order 1,2, got %d,%d", result[0].Sequence, result[1].Sequence)
	}
}

func TestPricePointStore_DuplicateKey(t *testing.T) {
	store := NewPricePointStore()
	ctx := context.Background()

	points := []*domain.PricePoint{{Sequence: 1, TimestampMs: 1000}}
	if err := store.InsertBulk(ctx, points); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.InsertBulk(ctx, points)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestPricePointStore_IntraBatchDuplicate(t *testing.T) {
	store := NewPricePointStore()
	ctx := context.Background()

	points := []*domain.PricePoint{
		{Sequence: 7, TimestampMs: 1000},
		{Sequence: 7, TimestampMs: 1001}, // duplicate key
	}

	err := store.InsertBulk(ctx, points)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}

	result, _ := store.GetByTimeRange(ctx, 0, 5000)
	if len(result) != 0 {
		t.Errorf("Expected 0 points (rollback), got %d", len(result))
	}
}

func TestPricePointStore_GetByTimeRange(t *testing.T) {
	store := NewPricePointStore()
	ctx := context.Background()

	points := []*domain.PricePoint{
		{Sequence: 1, TimestampMs: 1000},
		{Sequence: 2, TimestampMs: 2000},
		{Sequence: 3, TimestampMs: 3000},
	}
	if err := store.InsertBulk(ctx, points); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetByTimeRange(ctx, 1500, 3000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(result) != 2 {
		t.Errorf("Expected 2 points in range, got %d", len(result))
	}
}

func TestPricePointStore_InvalidInput(t *testing.T) {
	store := NewPricePointStore()

	err := store.InsertBulk(context.Background(), []*domain.PricePoint{{Sequence: 0}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

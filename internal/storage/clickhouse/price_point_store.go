package clickhouse

import (
	"context"
	"fmt"
	"time"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/observability"
	"bondcurve-ledger/internal/storage"
)

// PricePointStore implements storage.PricePointStore using ClickHouse.
type PricePointStore struct {
	conn *Conn
}

// NewPricePointStore creates a new PricePointStore.
func NewPricePointStore(conn *Conn) *PricePointStore {
	return &PricePointStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PricePointStore = (*PricePointStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate sequence.
func (s *PricePointStore) InsertBulk(ctx context.Context, points []*domain.PricePoint) (err error) {
	if len(points) == 0 {
		return nil
	}

	started := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "insert_price_points", time.Since(started).Seconds(), err)
	}()

	// Check for intra-batch duplicates
	seen := make(map[uint64]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.Sequence == 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[p.Sequence]; exists {
			return storage.ErrDuplicateKey
		}
		seen[p.Sequence] = struct{}{}
	}

	// MergeTree does not enforce keys, check stored rows first
	for _, p := range points {
		exists, err := s.exists(ctx, p.Sequence)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_points (
			sequence, timestamp_ms, kind, price, backing, supply, total_borrowed, total_collateral
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.Sequence, uint64(p.TimestampMs), string(p.Kind),
			p.Price, p.Backing, p.Supply, p.TotalBorrowed, p.TotalCollateral,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves points within [start, end] (inclusive, unix ms), ordered by sequence ASC.
func (s *PricePointStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.PricePoint, error) {
	if start < 0 {
		start = 0
	}
	if end < start {
		return nil, nil
	}

	query := `
		SELECT sequence, timestamp_ms, kind, price, backing, supply, total_borrowed, total_collateral
		FROM price_points FINAL
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY sequence ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// exists checks if a point with the given sequence exists.
func (s *PricePointStore) exists(ctx context.Context, sequence uint64) (bool, error) {
	query := `SELECT count(*) FROM price_points WHERE sequence = ?`

	var count uint64
	err := s.conn.QueryRow(ctx, query, sequence).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanPricePoints scans multiple rows.
func scanPricePoints(rows chRows) ([]*domain.PricePoint, error) {
	var points []*domain.PricePoint

	for rows.Next() {
		var p domain.PricePoint
		var timestampMs uint64
		var kind string

		err := rows.Scan(
			&p.Sequence, &timestampMs, &kind,
			&p.Price, &p.Backing, &p.Supply, &p.TotalBorrowed, &p.TotalCollateral,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price point row: %w", err)
		}

		p.TimestampMs = int64(timestampMs)
		p.Kind = domain.OperationKind(kind)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price point rows: %w", err)
	}

	return points, nil
}

// Package liquidation forfeits expired loans one bucket day at a time.
package liquidation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/ledger"
	"bondcurve-ledger/internal/pricing"
)

// Burner destroys forfeited collateral held in the collateral pool.
type Burner interface {
	BurnCollateral(ctx context.Context, amount uint64) error
}

// Report summarizes one sweep.
type Report struct {
	Days       int    // bucket days processed
	Borrowed   uint64 // debt written off
	Collateral uint64 // collateral burned
	Cursor     int64  // last_liquidation_date after the sweep
}

// Sweeper walks daily buckets from the ledger cursor up to now.
type Sweeper struct {
	logger zerolog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(logger zerolog.Logger) *Sweeper {
	return &Sweeper{logger: logger.With().Str("component", "sweeper").Logger()}
}

// Sweep processes every bucket day before now, at most limit days when limit > 0.
// Each day drains its bucket from the global totals, burns its collateral and
// the matching supply, then advances the cursor by one day.
func (s *Sweeper) Sweep(ctx context.Context, tx *ledger.Tx, burner Burner, now int64, limit int) (Report, error) {
	g := tx.Global()
	var r Report

	for g.LastLiquidationDate < now {
		if limit > 0 && r.Days >= limit {
			break
		}

		drained, err := tx.DrainBucket(ctx, g.LastLiquidationDate)
		if err != nil {
			return r, fmt.Errorf("drain bucket %d: %w", g.LastLiquidationDate, err)
		}
		if drained.Collateral > 0 {
			if err := burner.BurnCollateral(ctx, drained.Collateral); err != nil {
				return r, fmt.Errorf("burn forfeited collateral: %w", err)
			}
			g.TokenSupply = pricing.SaturatingSub(g.TokenSupply, drained.Collateral)
		}
		if !drained.IsEmpty() {
			s.logger.Debug().
				Int64("date", drained.Date).
				Uint64("borrowed", drained.Borrowed).
				Uint64("collateral", drained.Collateral).
				Msg("bucket forfeited")
		}

		r.Borrowed += drained.Borrowed
		r.Collateral += drained.Collateral
		r.Days++
		g.LastLiquidationDate += domain.SecondsPerDay
	}

	r.Cursor = g.LastLiquidationDate
	return r, nil
}

// PendingDays returns how many bucket days a sweep at now would process.
func PendingDays(g *domain.GlobalLedger, now int64) int64 {
	if g.LastLiquidationDate >= now {
		return 0
	}
	return (now - g.LastLiquidationDate + domain.SecondsPerDay - 1) / domain.SecondsPerDay
}

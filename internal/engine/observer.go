package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/observability"
	"bondcurve-ledger/internal/storage"
)

// CommitEvent describes a committed operation.
type CommitEvent struct {
	Record         *domain.OperationRecord
	Global         *domain.GlobalLedger // state after commit
	ReserveBalance uint64               // reserve balance after commit
	TimestampMs    int64

	committed bool
}

// Observer is notified after every commit, under the engine lock.
// Implementations must not call back into the Engine.
type Observer interface {
	OnCommit(ctx context.Context, ev CommitEvent)
}

// PricePoint builds the analytics sample for the event.
func (ev CommitEvent) PricePoint() *domain.PricePoint {
	g := ev.Global
	return &domain.PricePoint{
		Sequence:        g.Version,
		TimestampMs:     ev.TimestampMs,
		Kind:            ev.Record.Kind,
		Price:           g.LastPrice,
		Backing:         g.Backing(ev.ReserveBalance),
		Supply:          g.TokenSupply,
		TotalBorrowed:   g.TotalBorrowed,
		TotalCollateral: g.TotalCollateral,
	}
}

// RecorderConfig configures a PricePointRecorder.
type RecorderConfig struct {
	// Buffer is the number of points queued before new ones are dropped.
	Buffer int
	// BatchSize caps the points written per insert.
	BatchSize int
	// FlushInterval is the longest a queued point waits for a write.
	FlushInterval time.Duration
	// WriteTimeout bounds each insert.
	WriteTimeout time.Duration
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Buffer:        4096,
		BatchSize:     256,
		FlushInterval: time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// PricePointRecorder queues a price point per commit and writes them in
// batches from Run, so OnCommit never waits on the store.
type PricePointRecorder struct {
	store  storage.PricePointStore
	config RecorderConfig
	logger zerolog.Logger
	queue  chan *domain.PricePoint
}

// NewPricePointRecorder creates a recorder writing to store. A nil config
// uses DefaultRecorderConfig. Points are only written while Run is running.
func NewPricePointRecorder(store storage.PricePointStore, config *RecorderConfig, logger zerolog.Logger) *PricePointRecorder {
	cfg := DefaultRecorderConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &PricePointRecorder{
		store:  store,
		config: cfg,
		logger: logger.With().Str("component", "price_points").Logger(),
		queue:  make(chan *domain.PricePoint, cfg.Buffer),
	}
}

// OnCommit implements Observer. A full queue drops the point; the operation
// is already committed.
func (r *PricePointRecorder) OnCommit(_ context.Context, ev CommitEvent) {
	pt := ev.PricePoint()
	select {
	case r.queue <- pt:
	default:
		observability.RecordPricePointsDropped(1)
		r.logger.Warn().Uint64("sequence", pt.Sequence).Msg("price point queue full, dropping")
	}
}

// Run writes queued points until ctx is done, then flushes what is left.
func (r *PricePointRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*domain.PricePoint, 0, r.config.BatchSize)
	for {
		select {
		case <-ctx.Done():
			r.drain(batch)
			return nil
		case pt := <-r.queue:
			batch = append(batch, pt)
			if len(batch) >= r.config.BatchSize {
				batch = r.write(batch)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				batch = r.write(batch)
			}
		}
	}
}

// drain writes batch and everything still queued.
func (r *PricePointRecorder) drain(batch []*domain.PricePoint) {
	for {
		select {
		case pt := <-r.queue:
			batch = append(batch, pt)
			if len(batch) >= r.config.BatchSize {
				batch = r.write(batch)
			}
		default:
			if len(batch) > 0 {
				r.write(batch)
			}
			return
		}
	}
}

// write inserts batch and returns a fresh one. Failed batches are logged
// and dropped.
func (r *PricePointRecorder) write(batch []*domain.PricePoint) []*domain.PricePoint {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.store.InsertBulk(ctx, batch); err != nil {
		observability.RecordPricePointsDropped(len(batch))
		r.logger.Error().Err(err).
			Uint64("first_sequence", batch[0].Sequence).
			Int("points", len(batch)).
			Msg("record price points")
	}
	return make([]*domain.PricePoint, 0, r.config.BatchSize)
}

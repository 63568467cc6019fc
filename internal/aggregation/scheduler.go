package aggregation

import (
	"context"
	"log/slog"
	"time"

	"github.com/aevon-lab/report-core/internal/core/storage"
)

const maxConsecutiveBatches = 100

// SchedulerOptions configures ledger maintenance.
type SchedulerOptions struct {
	// Interval between pruning passes.
	Interval time.Duration
	// Retention is how long processed event ids stay in the ledger. Redeliveries
	// older than this are no longer recognized as duplicates.
	Retention time.Duration
	// BatchSize caps the rows deleted per statement.
	BatchSize int
}

func (o SchedulerOptions) normalized() SchedulerOptions {
	if o.Interval <= 0 {
		o.Interval = time.Hour
	}
	if o.Retention <= 0 {
		o.Retention = 30 * 24 * time.Hour
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 5000
	}
	return o
}

// Scheduler prunes the processed-event ledger on a periodic interval.
type Scheduler struct {
	ledger storage.Ledger
	opts   SchedulerOptions
	now    func() time.Time
}

func NewScheduler(ledger storage.Ledger, opts SchedulerOptions) *Scheduler {
	return &Scheduler{ledger: ledger, opts: opts.normalized(), now: time.Now}
}

// Start prunes once immediately, then on every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting ledger maintenance",
		"interval", s.opts.Interval,
		"retention", s.opts.Retention,
		"batch_size", s.opts.BatchSize,
	)

	s.Prune(ctx)

	for {
		select {
		case <-ticker.C:
			s.Prune(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")
			return nil
		}
	}
}

// Prune deletes expired ledger entries batch by batch until fewer than a full
// batch remain, or the batch limit is hit. Returns the number of entries deleted.
func (s *Scheduler) Prune(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.opts.Retention)
	var total int64

	for batch := 0; batch < maxConsecutiveBatches; batch++ {
		select {
		case <-ctx.Done():
			slog.Info("[Scheduler] Prune interrupted by context cancellation", "batches_processed", batch)
			return total
		default:
		}

		deleted, err := s.ledger.PruneLedger(ctx, cutoff, s.opts.BatchSize)
		if err != nil {
			slog.Error("[Scheduler] Ledger prune failed", "error", err, "batch_number", batch+1)
			return total
		}
		total += deleted

		if deleted < int64(s.opts.BatchSize) {
			if total > 0 {
				slog.Info("[Scheduler] Ledger pruned", "deleted", total, "cutoff", cutoff, "batches", batch+1)
			}
			return total
		}
	}

	slog.Warn("[Scheduler] Max consecutive batches reached, pausing prune",
		"max_batches", maxConsecutiveBatches,
		"deleted", total,
		"note", "Will resume on next tick",
	)
	return total
}

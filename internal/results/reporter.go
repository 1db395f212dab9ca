package results

import (
	"context"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	"go.uber.org/zap"
)

// Reporter periodically logs the recorder state and saves it as a
// snapshot of the current run.
type Reporter struct {
	store    *Store
	rec      *metrics.Recorder
	runID    string
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewReporter creates a reporter. store may be nil, in which case the
// reporter only logs.
func NewReporter(store *Store, rec *metrics.Recorder, runID string, interval time.Duration, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		store:    store,
		rec:      rec,
		runID:    runID,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run reports every interval until ctx is cancelled, then writes a final
// snapshot.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Report(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

// Report logs and saves one snapshot.
func (r *Reporter) Report(ctx context.Context) {
	snap := r.rec.Snapshot()
	counters := r.rec.Counters()

	r.logger.Info("latency stats",
		zap.String("run_id", r.runID),
		zap.Uint64("samples", snap.Count),
		zap.Duration("p50", snap.P50),
		zap.Duration("p95", snap.P95),
		zap.Duration("p99", snap.P99),
		zap.Duration("max", snap.Max),
		zap.Int64("received", counters[metrics.CounterReceived]),
		zap.Int64("published", counters[metrics.CounterPublished]),
		zap.Int64("errors", counters[metrics.CounterErrors]),
		zap.Int64("backpressure_retries", counters[metrics.CounterBackpressure]),
	)

	if r.store == nil {
		return
	}
	row := NewSnapshot(r.runID, snap, counters, r.now().UnixMilli())
	if err := r.store.SaveSnapshot(ctx, row); err != nil {
		r.logger.Error("failed to save snapshot", zap.Error(err))
	}
}

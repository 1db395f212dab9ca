package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/clock"
	"github.com/ismaiel54/transport-latency-bench/internal/idle"
	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	"github.com/ismaiel54/transport-latency-bench/internal/tick"
	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"go.uber.org/zap"
)

// TickObserver is called by the poller for every decoded tick.
type TickObserver func(t tick.Tick, latency time.Duration)

// Poller drains a subscription, decodes ticks and records their latency.
type Poller struct {
	sub      transport.Subscription
	rec      *metrics.Recorder
	clock    clock.Clock
	idle     idle.Strategy
	limit    int
	observer TickObserver
	logger   *zap.Logger
}

func newPoller(sub transport.Subscription, rec *metrics.Recorder, cfg Config, observer TickObserver, logger *zap.Logger) *Poller {
	return &Poller{
		sub:      sub,
		rec:      rec,
		clock:    cfg.Clock,
		idle:     cfg.PollIdle,
		limit:    cfg.FragmentLimit,
		observer: observer,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled. Messages still queued at cancellation
// are left behind. A closed subscription is fatal unless ctx is already
// cancelled, in which case it is the expected shutdown race.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", zap.Int("fragment_limit", p.limit))

	for {
		if ctx.Err() != nil {
			p.logger.Info("poller stopping")
			return nil
		}

		n, err := p.sub.Poll(ctx, p.handle, p.limit)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				if ctx.Err() != nil {
					p.logger.Debug("subscription closed during shutdown")
					return nil
				}
				return fmt.Errorf("%w: %w", ErrTransportLost, err)
			}

			p.rec.Inc(metrics.CounterErrors)
			p.logger.Warn("poll failed", zap.Error(err))
		}

		p.idle.Idle(n)
	}
}

func (p *Poller) handle(payload []byte) {
	t, err := tick.Decode(payload)
	if err != nil {
		p.rec.Inc(metrics.CounterErrors)
		p.logger.Warn("skipping malformed message",
			zap.Int("bytes", len(payload)),
			zap.Error(err),
		)
		return
	}

	latency := time.Duration(p.clock.Now() - t.Timestamp)
	p.rec.Inc(metrics.CounterReceived)

	if latency < 0 {
		p.rec.Inc(metrics.CounterClockAnomalies)
		p.logger.Warn("negative latency, clocks are not comparable",
			zap.String("symbol", t.Symbol),
			zap.Int64("timestamp", t.Timestamp),
			zap.Duration("latency", latency),
		)
	} else {
		p.rec.Record(latency)
		p.logger.Debug("received book ticker",
			zap.String("symbol", t.Symbol),
			zap.Duration("latency", latency),
		)
	}

	if p.observer != nil {
		p.observer(t, latency)
	}
}

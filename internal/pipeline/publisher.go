package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/clock"
	"github.com/ismaiel54/transport-latency-bench/internal/idle"
	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	"github.com/ismaiel54/transport-latency-bench/internal/tick"
	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"go.uber.org/zap"
)

// Outcome is the result of a single Publish.
type Outcome int

const (
	// OutcomeSent means the tick was handed to the transport.
	OutcomeSent Outcome = iota + 1
	// OutcomeDropped means the tick could not be encoded and was discarded.
	OutcomeDropped
	// OutcomeFailed means the transport refused the tick for a reason
	// other than backpressure, or the publish was abandoned.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeDropped:
		return "dropped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes a Publish call.
type Result struct {
	Outcome  Outcome
	Attempts int
}

// Publisher stamps, encodes and offers ticks into a publication, retrying
// for as long as the transport reports backpressure. It is driven by a
// single goroutine; Publish must not be called concurrently.
type Publisher struct {
	pub      transport.Publication
	rec      *metrics.Recorder
	clock    clock.Clock
	idle     idle.Strategy
	maxRetry time.Duration
	logger   *zap.Logger

	ready   atomic.Bool
	stopped atomic.Bool
}

func newPublisher(pub transport.Publication, rec *metrics.Recorder, cfg Config, logger *zap.Logger) *Publisher {
	return &Publisher{
		pub:      pub,
		rec:      rec,
		clock:    cfg.Clock,
		idle:     cfg.PublishIdle,
		maxRetry: cfg.MaxRetryDuration,
		logger:   logger,
	}
}

// Ready reports whether the publisher accepts ticks.
func (p *Publisher) Ready() bool {
	return p.ready.Load() && !p.stopped.Load()
}

// MarkReady lets Publish accept ticks.
func (p *Publisher) MarkReady() {
	p.ready.Store(true)
}

func (p *Publisher) stop() {
	p.stopped.Store(true)
}

// Publish stamps t with the capture time and offers it to the transport.
// Backpressure is retried without limit unless a maximum retry duration
// is configured; the loop also ends when ctx is cancelled or the pipeline
// stops.
func (p *Publisher) Publish(ctx context.Context, t tick.Tick) (Result, error) {
	if p.stopped.Load() {
		return Result{Outcome: OutcomeFailed}, ErrStopped
	}
	if !p.ready.Load() {
		return Result{Outcome: OutcomeFailed}, ErrNotReady
	}

	t.Timestamp = p.clock.Now()

	payload, err := tick.Encode(t)
	if err != nil {
		p.rec.Inc(metrics.CounterErrors)
		p.logger.Error("dropping tick that cannot be encoded",
			zap.String("symbol", t.Symbol),
			zap.Error(err),
		)
		return Result{Outcome: OutcomeDropped}, err
	}

	defer p.idle.Reset()

	var start time.Time
	if p.maxRetry > 0 {
		start = time.Now()
	}

	for attempts := 1; ; attempts++ {
		err := p.pub.Offer(ctx, t.Symbol, payload)
		if err == nil {
			p.rec.Inc(metrics.CounterPublished)
			p.logger.Debug("published book ticker",
				zap.String("symbol", t.Symbol),
				zap.Int("attempts", attempts),
			)
			return Result{Outcome: OutcomeSent, Attempts: attempts}, nil
		}

		if !errors.Is(err, transport.ErrBackpressure) {
			p.rec.Inc(metrics.CounterErrors)
			return Result{Outcome: OutcomeFailed, Attempts: attempts}, fmt.Errorf("failed to offer tick: %w", err)
		}
		p.rec.Inc(metrics.CounterBackpressure)

		switch {
		case p.stopped.Load():
			return Result{Outcome: OutcomeFailed, Attempts: attempts}, ErrStopped
		case ctx.Err() != nil:
			return Result{Outcome: OutcomeFailed, Attempts: attempts}, ctx.Err()
		case p.maxRetry > 0 && time.Since(start) > p.maxRetry:
			p.rec.Inc(metrics.CounterErrors)
			p.logger.Error("giving up on back pressured transport",
				zap.String("symbol", t.Symbol),
				zap.Int("attempts", attempts),
				zap.Duration("max_retry", p.maxRetry),
			)
			return Result{Outcome: OutcomeFailed, Attempts: attempts}, ErrOverloaded
		}

		if attempts == 1 {
			p.logger.Debug("transport back pressured, retrying", zap.String("symbol", t.Symbol))
		}
		p.idle.Idle(0)
	}
}

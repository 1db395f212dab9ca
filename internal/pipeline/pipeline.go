// Package pipeline wires a publisher and a poller to one transport and
// manages their lifecycle.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/clock"
	"github.com/ismaiel54/transport-latency-bench/internal/idle"
	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	"github.com/ismaiel54/transport-latency-bench/internal/tick"
	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// State is the lifecycle state of a pipeline.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateClosed
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Config holds pipeline configuration
type Config struct {
	FragmentLimit    int
	MaxRetryDuration time.Duration
	StopTimeout      time.Duration
	PublishIdle      idle.Strategy
	PollIdle         idle.Strategy
	Clock            clock.Clock
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FragmentLimit: 10,
		StopTimeout:   5 * time.Second,
		PublishIdle:   idle.Yield{},
		PollIdle:      idle.Yield{},
		Clock:         clock.Monotonic(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FragmentLimit <= 0 {
		c.FragmentLimit = d.FragmentLimit
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.PublishIdle == nil {
		c.PublishIdle = d.PublishIdle
	}
	if c.PollIdle == nil {
		c.PollIdle = d.PollIdle
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	return c
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithTickObserver registers fn to see every tick the poller decodes.
func WithTickObserver(fn TickObserver) Option {
	return func(p *Pipeline) {
		p.observer = fn
	}
}

// WithStateListener registers fn to be called on every state change.
func WithStateListener(fn func(State)) Option {
	return func(p *Pipeline) {
		p.listener = fn
	}
}

// Pipeline relays ticks from a publisher to a poller over one transport.
type Pipeline struct {
	cfg      Config
	conn     transport.Conn
	rec      *metrics.Recorder
	logger   *zap.Logger
	observer TickObserver
	listener func(State)

	state atomic.Int32
}

// New creates a pipeline over conn. It does nothing until Start.
func New(cfg Config, conn transport.Conn, rec *metrics.Recorder, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		cfg:    cfg.withDefaults(),
		conn:   conn,
		rec:    rec,
		logger: logger.With(zap.String("transport", conn.Kind())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	prev := State(p.state.Swap(int32(s)))
	if prev == s {
		return
	}
	p.logger.Info("pipeline state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", s),
	)
	if p.listener != nil {
		p.listener(s)
	}
}

// Start brings up the poller and then marks the publisher ready. A
// pipeline can be started once.
func (p *Pipeline) Start(ctx context.Context) (*Handle, error) {
	if !p.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return nil, ErrAlreadyStarted
	}
	p.logger.Info("pipeline state changed",
		zap.Stringer("from", StateCreated),
		zap.Stringer("to", StateStarting),
	)
	if p.listener != nil {
		p.listener(StateStarting)
	}

	sub := p.conn.Subscription()
	pub := p.conn.Publication()
	if sub == nil || pub == nil {
		p.setState(StateFaulted)
		return nil, errors.New("pipeline: transport has no publication or subscription")
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		pipeline:   p,
		publisher:  newPublisher(pub, p.rec, p.cfg, p.logger),
		poller:     newPoller(sub, p.rec, p.cfg, p.observer, p.logger),
		cancel:     cancel,
		pollerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}

	go h.runPoller(pollCtx)

	h.publisher.MarkReady()
	p.setState(StateRunning)
	p.logger.Info("pipeline started",
		zap.Int("fragment_limit", p.cfg.FragmentLimit),
		zap.Duration("max_retry", p.cfg.MaxRetryDuration),
	)
	return h, nil
}

// Handle controls a started pipeline.
type Handle struct {
	pipeline  *Pipeline
	publisher *Publisher
	poller    *Poller
	cancel    context.CancelFunc

	pollerDone chan struct{}
	done       chan struct{}

	stopOnce sync.Once
	stopErr  error

	faultMu sync.Mutex
	fault   error
}

// Publish stamps and sends one tick.
func (h *Handle) Publish(ctx context.Context, t tick.Tick) (Result, error) {
	return h.publisher.Publish(ctx, t)
}

// Ready reports whether the publisher accepts ticks.
func (h *Handle) Ready() bool {
	return h.publisher.Ready()
}

// State returns the pipeline state.
func (h *Handle) State() State {
	return h.pipeline.State()
}

// Recorder returns the recorder the poller writes to.
func (h *Handle) Recorder() *metrics.Recorder {
	return h.pipeline.rec
}

// Done is closed once the pipeline has fully stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the fault that stopped the pipeline, if any.
func (h *Handle) Err() error {
	h.faultMu.Lock()
	defer h.faultMu.Unlock()
	return h.fault
}

func (h *Handle) runPoller(ctx context.Context) {
	err := h.poller.Run(ctx)
	close(h.pollerDone)

	if err == nil {
		return
	}

	h.faultMu.Lock()
	h.fault = err
	h.faultMu.Unlock()

	h.pipeline.logger.Error("poller failed, stopping pipeline", zap.Error(err))
	h.pipeline.setState(StateFaulted)
	go h.Stop()
}

// Stop cancels the poller, waits for it and then closes the subscription,
// the publication and the driver, in that order. Every close is attempted
// even if an earlier one fails. Calling Stop again returns the first
// result.
func (h *Handle) Stop() error {
	h.stopOnce.Do(func() {
		h.stopErr = h.stop()
		close(h.done)
	})
	return h.stopErr
}

func (h *Handle) stop() error {
	p := h.pipeline
	p.setState(StateStopping)

	h.publisher.stop()
	h.cancel()

	timer := time.NewTimer(p.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-h.pollerDone:
	case <-timer.C:
		p.logger.Warn("poller did not stop in time, closing transport anyway",
			zap.Duration("timeout", p.cfg.StopTimeout),
		)
	}

	var errs error
	closeResource := func(name string, c interface{ Close() error }) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			terr := &TeardownError{Resource: name, Err: err}
			p.logger.Error("failed to close resource",
				zap.String("resource", name),
				zap.Error(err),
			)
			errs = multierr.Append(errs, terr)
		}
	}

	closeResource("subscription", p.conn.Subscription())
	closeResource("publication", p.conn.Publication())
	closeResource("driver", p.conn.Driver())

	p.setState(StateClosed)
	p.logger.Info("pipeline stopped",
		zap.Int64("received", p.rec.Counter(metrics.CounterReceived)),
		zap.Int64("published", p.rec.Counter(metrics.CounterPublished)),
		zap.Int64("errors", p.rec.Counter(metrics.CounterErrors)),
	)
	return errs
}

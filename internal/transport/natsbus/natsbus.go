// Package natsbus is the lightweight pub/sub transport built on NATS core
// subjects. There is no persistence: a subscriber only sees ticks
// published while it is subscribed.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectBookTicker is the subject root ticks are published under.
const SubjectBookTicker = "book.ticker"

// Config holds NATS configuration
type Config struct {
	URL     string
	Name    string
	Subject string

	// PerSymbol publishes to <subject>.<symbol> and subscribes to the
	// <subject>.> wildcard instead of the bare subject.
	PerSymbol bool

	PollTimeout      time.Duration
	ReconnectBufSize int
	PendingMsgLimit  int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:              nats.DefaultURL,
		Name:             "transport-latency-bench",
		Subject:          SubjectBookTicker,
		PerSymbol:        true,
		PollTimeout:      100 * time.Millisecond,
		ReconnectBufSize: 8 * 1024 * 1024,
		PendingMsgLimit:  65536,
	}
}

// PublishSubject returns the subject a tick keyed by symbol goes to.
func (c Config) PublishSubject(symbol string) string {
	if c.PerSymbol && symbol != "" {
		return c.Subject + "." + symbol
	}
	return c.Subject
}

// SubscribeSubject returns the subject the poller listens on.
func (c Config) SubscribeSubject() string {
	if c.PerSymbol {
		return c.Subject + ".>"
	}
	return c.Subject
}

// Publisher publishes encoded ticks on a NATS connection
type Publisher struct {
	nc     *nats.Conn
	cfg    Config
	closed atomic.Bool
}

// Offer implements transport.Publication. A full reconnect buffer is
// reported as backpressure.
func (p *Publisher) Offer(ctx context.Context, key string, payload []byte) error {
	if p.closed.Load() {
		return transport.ErrClosed
	}

	err := p.nc.Publish(p.cfg.PublishSubject(key), payload)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrReconnectBufExceeded):
		return transport.ErrBackpressure
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrConnectionDraining):
		return transport.ErrClosed
	default:
		return fmt.Errorf("failed to publish: %w", err)
	}
}

// Close flushes pending publishes.
func (p *Publisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.nc.IsClosed() {
		return nil
	}
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		return fmt.Errorf("failed to flush nats connection: %w", err)
	}
	return nil
}

// Subscriber polls a synchronous NATS subscription
type Subscriber struct {
	sub         *nats.Subscription
	pollTimeout time.Duration
	logger      *zap.Logger
	closed      atomic.Bool
}

// Poll waits up to the poll timeout for the first message, then takes
// whatever else is already queued, up to limit.
func (s *Subscriber) Poll(ctx context.Context, h transport.Handler, limit int) (int, error) {
	if s.closed.Load() {
		return 0, transport.ErrClosed
	}

	n := 0
	timeout := s.pollTimeout
	for n < limit {
		msg, err := s.sub.NextMsg(timeout)
		switch {
		case err == nil:
		case errors.Is(err, nats.ErrTimeout):
			return n, nil
		case errors.Is(err, nats.ErrBadSubscription), errors.Is(err, nats.ErrConnectionClosed):
			return n, transport.ErrClosed
		case errors.Is(err, nats.ErrSlowConsumer):
			// Messages were dropped by the client; the subscription is still usable.
			return n, fmt.Errorf("slow consumer: %w", err)
		default:
			return n, fmt.Errorf("failed to read message: %w", err)
		}

		h(msg.Data)
		n++
		timeout = 0
	}
	return n, nil
}

// Close unsubscribes.
func (s *Subscriber) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// Open connects to NATS and subscribes before returning so no tick
// published afterwards is missed.
func Open(cfg Config, logger *zap.Logger) (transport.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectBufSize(cfg.ReconnectBufSize),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	sub, err := nc.SubscribeSync(cfg.SubscribeSubject())
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := sub.SetPendingLimits(cfg.PendingMsgLimit, -1); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to set pending limits: %w", err)
	}

	logger.Info("nats connected",
		zap.String("url", cfg.URL),
		zap.String("publish_subject", cfg.PublishSubject("<symbol>")),
		zap.String("subscribe_subject", cfg.SubscribeSubject()),
	)

	driver := transport.CloserFunc(func() error {
		nc.Close()
		return nil
	})

	return transport.NewConn(transport.KindNATS,
		&Publisher{nc: nc, cfg: cfg},
		&Subscriber{sub: sub, pollTimeout: cfg.PollTimeout, logger: logger},
		driver,
	), nil
}

// Package redisbus is the lightweight pub/sub transport built on Redis
// PUBLISH/PSUBSCRIBE. Like NATS core it keeps nothing for absent
// subscribers.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelBookTicker is the channel root ticks are published under.
const ChannelBookTicker = "book.ticker"

// Config holds Redis configuration
type Config struct {
	Addr           string
	Channel        string
	PerSymbol      bool
	PublishTimeout time.Duration
	PollTimeout    time.Duration
	BufferSize     int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:6379",
		Channel:        ChannelBookTicker,
		PerSymbol:      true,
		PublishTimeout: 50 * time.Millisecond,
		PollTimeout:    100 * time.Millisecond,
		BufferSize:     65536,
	}
}

// PublishChannel returns the channel a tick keyed by symbol goes to.
func (c Config) PublishChannel(symbol string) string {
	if c.PerSymbol && symbol != "" {
		return c.Channel + "." + symbol
	}
	return c.Channel
}

// Pattern returns the PSUBSCRIBE pattern covering both channel forms.
func (c Config) Pattern() string {
	return c.Channel + "*"
}

// Publisher publishes encoded ticks with PUBLISH
type Publisher struct {
	client *redis.Client
	cfg    Config
	closed atomic.Bool
}

// Offer implements transport.Publication. A publish that cannot complete
// within the publish timeout is reported as backpressure.
func (p *Publisher) Offer(ctx context.Context, key string, payload []byte) error {
	if p.closed.Load() {
		return transport.ErrClosed
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	err := p.client.Publish(pubCtx, p.cfg.PublishChannel(key), payload).Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.ErrClosed):
		return transport.ErrClosed
	case ctx.Err() != nil:
		return ctx.Err()
	case isTimeout(err):
		return transport.ErrBackpressure
	default:
		return fmt.Errorf("failed to publish: %w", err)
	}
}

// Close stops accepting offers; the client is released by the driver.
func (p *Publisher) Close() error {
	p.closed.Store(true)
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Subscriber drains a pattern subscription
type Subscriber struct {
	pubsub      *redis.PubSub
	ch          <-chan *redis.Message
	pollTimeout time.Duration
	closed      atomic.Bool
}

// Poll waits up to the poll timeout for the first message, then takes
// whatever else is already buffered, up to limit.
func (s *Subscriber) Poll(ctx context.Context, h transport.Handler, limit int) (int, error) {
	if s.closed.Load() {
		return 0, transport.ErrClosed
	}

	timer := time.NewTimer(s.pollTimeout)
	defer timer.Stop()

	n := 0
	select {
	case msg, ok := <-s.ch:
		if !ok {
			return 0, transport.ErrClosed
		}
		h([]byte(msg.Payload))
		n++
	case <-timer.C:
		return 0, nil
	case <-ctx.Done():
		return 0, nil
	}

	for n < limit {
		select {
		case msg, ok := <-s.ch:
			if !ok {
				return n, transport.ErrClosed
			}
			h([]byte(msg.Payload))
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// Close unsubscribes and closes the message channel.
func (s *Subscriber) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.pubsub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("failed to close pubsub: %w", err)
	}
	return nil
}

// Open connects to Redis and confirms the pattern subscription before
// returning.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (transport.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		PoolSize: 4,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	pubsub := client.PSubscribe(ctx, cfg.Pattern())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	logger.Info("redis connected",
		zap.String("addr", cfg.Addr),
		zap.String("pattern", cfg.Pattern()),
	)

	sub := &Subscriber{
		pubsub:      pubsub,
		ch:          pubsub.Channel(redis.WithChannelSize(cfg.BufferSize)),
		pollTimeout: cfg.PollTimeout,
	}

	return transport.NewConn(transport.KindRedis, &Publisher{client: client, cfg: cfg}, sub, client), nil
}

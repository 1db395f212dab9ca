package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Consumer reads encoded ticks from the book-ticker topic
type Consumer struct {
	client      *kgo.Client
	logger      *zap.Logger
	topic       string
	group       string
	pollTimeout time.Duration

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewConsumer creates a new Kafka consumer positioned at the end of the
// topic; a latency benchmark has no use for backlog.
func NewConsumer(cfg Config, logger *zap.Logger) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.FetchMaxWait(10 * time.Millisecond),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	logger.Info("consumer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("group", cfg.Group),
		zap.String("topic", cfg.Topic),
	)

	return &Consumer{
		client:      client,
		logger:      logger,
		topic:       cfg.Topic,
		group:       cfg.Group,
		pollTimeout: cfg.PollTimeout,
	}, nil
}

// Poll fetches at most limit records, waiting no longer than the poll
// timeout. Fetch errors other than the timeout are returned after the
// records that did arrive have been handled.
func (c *Consumer) Poll(ctx context.Context, h transport.Handler, limit int) (int, error) {
	if c.closed.Load() {
		return 0, transport.ErrClosed
	}

	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	fetches := c.client.PollRecords(pollCtx, limit)
	if fetches.IsClientClosed() {
		return 0, transport.ErrClosed
	}

	var firstErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("fetch %s[%d]: %w", topic, partition, err)
		}
	})

	n := 0
	fetches.EachRecord(func(r *kgo.Record) {
		h(r.Value)
		n++
	})

	return n, firstErr
}

// Close stops the consumer handle; the client is released by the driver.
func (c *Consumer) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Consumer) closeClient() {
	c.closeOnce.Do(c.client.Close)
}

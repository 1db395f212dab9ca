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

// Producer publishes encoded ticks to the book-ticker topic
type Producer struct {
	client      *kgo.Client
	logger      *zap.Logger
	topic       string
	maxInFlight int64

	inFlight     atomic.Int64
	produceCount atomic.Int64
	errorCount   atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger *zap.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.LeaderAck()),
		kgo.DisableIdempotentWrite(), // Leader acks only
		kgo.ProducerLinger(0),
		// Headroom above MaxInFlight so Produce never blocks.
		kgo.MaxBufferedRecords(cfg.MaxInFlight * 2),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	logger.Info("producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Int("max_in_flight", cfg.MaxInFlight),
	)

	return &Producer{
		client:      client,
		logger:      logger,
		topic:       cfg.Topic,
		maxInFlight: int64(cfg.MaxInFlight),
	}, nil
}

// Offer hands the record to the client without waiting for the broker.
// Records beyond MaxInFlight are refused with backpressure.
func (p *Producer) Offer(ctx context.Context, key string, payload []byte) error {
	if p.closed.Load() {
		return transport.ErrClosed
	}
	if p.inFlight.Load() >= p.maxInFlight {
		return transport.ErrBackpressure
	}

	p.inFlight.Add(1)
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(key),
		Value: payload,
	}

	// The record context must outlive the caller's; the publisher's ctx
	// is only scoped to a single Publish call.
	p.client.Produce(context.WithoutCancel(ctx), record, p.promise)
	return nil
}

func (p *Producer) promise(r *kgo.Record, err error) {
	p.inFlight.Add(-1)
	if err != nil {
		p.errorCount.Add(1)
		if errors.Is(err, kgo.ErrClientClosed) {
			return
		}
		p.logger.Warn("failed to produce record",
			zap.String("topic", r.Topic),
			zap.String("key", string(r.Key)),
			zap.Error(err),
		)
		return
	}
	p.produceCount.Add(1)
}

// Stats returns the acknowledged and failed record counts.
func (p *Producer) Stats() (produced, failed int64) {
	return p.produceCount.Load(), p.errorCount.Load()
}

// Close flushes outstanding records and stops accepting offers. The
// client itself is released by the driver.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(flushCtx); err != nil {
		return fmt.Errorf("failed to flush producer: %w", err)
	}
	return nil
}

func (p *Producer) closeClient() {
	p.closeOnce.Do(p.client.Close)
}

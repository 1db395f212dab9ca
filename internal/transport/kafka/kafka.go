// Package kafka is the durable partitioned log transport, built on
// franz-go. Ticks are keyed by symbol so each symbol stays ordered within
// its partition.
package kafka

import (
	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"go.uber.org/zap"
)

// Open creates the producer and consumer clients for cfg.
func Open(cfg Config, logger *zap.Logger) (transport.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	producer, err := NewProducer(cfg, logger)
	if err != nil {
		return nil, err
	}

	consumer, err := NewConsumer(cfg, logger)
	if err != nil {
		producer.closeClient()
		return nil, err
	}

	driver := transport.CloserFunc(func() error {
		consumer.closeClient()
		producer.closeClient()
		return nil
	})

	return transport.NewConn(transport.KindKafka, producer, consumer, driver), nil
}

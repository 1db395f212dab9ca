// Package transports opens the configured transport backend.
package transports

import (
	"context"
	"fmt"

	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"github.com/ismaiel54/transport-latency-bench/internal/transport/kafka"
	"github.com/ismaiel54/transport-latency-bench/internal/transport/natsbus"
	"github.com/ismaiel54/transport-latency-bench/internal/transport/redisbus"
	"github.com/ismaiel54/transport-latency-bench/internal/transport/ring"
	"go.uber.org/zap"
)

// Config selects a backend and carries the settings of each.
type Config struct {
	Kind  string
	Ring  ring.Config
	Kafka kafka.Config
	NATS  natsbus.Config
	Redis redisbus.Config
}

// DefaultConfig returns the ring transport with every backend's defaults.
func DefaultConfig() Config {
	return Config{
		Kind:  transport.KindRing,
		Ring:  ring.DefaultConfig(),
		Kafka: kafka.DefaultConfig(),
		NATS:  natsbus.DefaultConfig(),
		Redis: redisbus.DefaultConfig(),
	}
}

// Open connects the backend named by cfg.Kind.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (transport.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("transport", cfg.Kind))

	switch cfg.Kind {
	case transport.KindRing:
		conn, _, err := ring.Open(cfg.Ring, logger)
		return conn, err
	case transport.KindKafka:
		return kafka.Open(cfg.Kafka, logger)
	case transport.KindNATS:
		return natsbus.Open(cfg.NATS, logger)
	case transport.KindRedis:
		return redisbus.Open(ctx, cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Kind)
	}
}

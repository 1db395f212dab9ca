package redisbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestChannels(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "book.ticker.BTCUSDT", cfg.PublishChannel("BTCUSDT"))
	assert.Equal(t, "book.ticker*", cfg.Pattern())

	cfg.PerSymbol = false
	assert.Equal(t, "book.ticker", cfg.PublishChannel("BTCUSDT"))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, isTimeout(context.DeadlineExceeded))
	assert.False(t, isTimeout(transport.ErrClosed))
}

func TestIntegration_PublishPoll(t *testing.T) {
	if os.Getenv("INTEGRATION") != "1" {
		t.Skip("Skipping integration test. Set INTEGRATION=1 to run.")
	}

	cfg := DefaultConfig()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := Open(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer conn.Driver().Close()

	require.NoError(t, conn.Publication().Offer(ctx, "BTCUSDT", []byte("a")))
	require.NoError(t, conn.Publication().Offer(ctx, "", []byte("b")))

	var got []string
	for len(got) < 2 && ctx.Err() == nil {
		_, err := conn.Subscription().Poll(ctx, func(p []byte) {
			got = append(got, string(p))
		}, 10)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b"}, got)

	require.NoError(t, conn.Subscription().Close())
	_, err = conn.Subscription().Poll(ctx, func([]byte) {}, 1)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

package transports

import (
	"context"
	"testing"

	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpen_Ring(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer conn.Driver().Close()

	assert.Equal(t, transport.KindRing, conn.Kind())
	require.NoError(t, conn.Publication().Offer(ctx, "BTCUSDT", []byte("x")))

	n, err := conn.Subscription().Poll(ctx, func(p []byte) {
		assert.Equal(t, "x", string(p))
	}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpen_Unknown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kind = "carrier-pigeon"
	_, err := Open(context.Background(), cfg, nil)
	assert.Error(t, err)
}

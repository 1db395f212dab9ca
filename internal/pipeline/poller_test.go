package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/idle"
	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	"github.com/ismaiel54/transport-latency-bench/internal/tick"
	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func encoded(t *testing.T, symbol string, ts int64) []byte {
	t.Helper()
	tk := btc()
	tk.Symbol = symbol
	tk.Timestamp = ts
	payload, err := tick.Encode(tk)
	require.NoError(t, err)
	return payload
}

type pollerRun struct {
	cancel context.CancelFunc
	errCh  chan error
}

func startPoller(t *testing.T, sub transport.Subscription, rec *metrics.Recorder, cfg Config) *pollerRun {
	t.Helper()
	cfg = cfg.withDefaults()
	cfg.PollIdle = idle.Sleep{Period: 100 * time.Microsecond}
	p := newPoller(sub, rec, cfg, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	run := &pollerRun{cancel: cancel, errCh: make(chan error, 1)}
	go func() { run.errCh <- p.Run(ctx) }()
	return run
}

func (r *pollerRun) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.errCh:
		return err
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
		return nil
	}
}

func TestPoller_SkipsMalformedMessage(t *testing.T) {
	ch := &memChannel{}
	ch.push(encoded(t, "BTCUSDT", 10))
	ch.push([]byte(`{"b":"1.0","timestamp":11}`))
	ch.push(encoded(t, "ETHUSDT", 12))

	rec := metrics.NewRecorder(16)
	run := startPoller(t, memSubscription{ch}, rec, Config{Clock: fixedClock(20)})

	require.Eventually(t, func() bool {
		return rec.Counter(metrics.CounterReceived) == 2
	}, time.Second, time.Millisecond)
	require.NoError(t, run.stop(t))

	assert.Equal(t, int64(1), rec.Counter(metrics.CounterErrors))
	assert.Equal(t, uint64(2), rec.Snapshot().Count)
}

func TestPoller_NegativeLatencyIsNotRecorded(t *testing.T) {
	ch := &memChannel{}
	ch.push(encoded(t, "BTCUSDT", 200))

	rec := metrics.NewRecorder(16)
	run := startPoller(t, memSubscription{ch}, rec, Config{Clock: fixedClock(100)})

	require.Eventually(t, func() bool {
		return rec.Counter(metrics.CounterClockAnomalies) == 1
	}, time.Second, time.Millisecond)
	require.NoError(t, run.stop(t))

	assert.Equal(t, uint64(0), rec.Snapshot().Count)
	assert.Equal(t, int64(1), rec.Counter(metrics.CounterReceived))
}

func TestPoller_ContinuesAfterPollError(t *testing.T) {
	ch := &memChannel{}
	ch.setPollErr(errors.New("broker unavailable"))

	rec := metrics.NewRecorder(16)
	run := startPoller(t, memSubscription{ch}, rec, Config{Clock: fixedClock(20)})

	require.Eventually(t, func() bool {
		return rec.Counter(metrics.CounterErrors) >= 2
	}, time.Second, time.Millisecond)

	ch.setPollErr(nil)
	ch.push(encoded(t, "BTCUSDT", 10))
	require.Eventually(t, func() bool {
		return rec.Counter(metrics.CounterReceived) == 1
	}, time.Second, time.Millisecond)
	require.NoError(t, run.stop(t))
}

func TestPoller_ClosedWhileRunningIsFatal(t *testing.T) {
	ch := &memChannel{subClosed: true}
	rec := metrics.NewRecorder(16)
	run := startPoller(t, memSubscription{ch}, rec, Config{})

	select {
	case err := <-run.errCh:
		assert.ErrorIs(t, err, ErrTransportLost)
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("poller kept running on a closed subscription")
	}
	run.cancel()
}

// closingSubscription simulates the subscription being closed while a
// poll is in flight during shutdown.
type closingSubscription struct {
	cancel context.CancelFunc
}

func (s closingSubscription) Poll(ctx context.Context, h transport.Handler, limit int) (int, error) {
	s.cancel()
	return 0, transport.ErrClosed
}

func (closingSubscription) Close() error { return nil }

func TestPoller_ClosedDuringShutdownIsBenign(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := DefaultConfig()
	p := newPoller(closingSubscription{cancel: cancel}, metrics.NewRecorder(16), cfg, nil, zaptest.NewLogger(t))
	assert.NoError(t, p.Run(ctx))
}

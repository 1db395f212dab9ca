package pipeline

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/clock"
	"github.com/ismaiel54/transport-latency-bench/internal/idle"
	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	"github.com/ismaiel54/transport-latency-bench/internal/tick"
	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"github.com/ismaiel54/transport-latency-bench/internal/transport/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

type observed struct {
	tick    tick.Tick
	latency time.Duration
}

func startPipeline(t *testing.T, conn transport.Conn, cfg Config, opts ...Option) (*Handle, *metrics.Recorder) {
	t.Helper()
	if cfg.PollIdle == nil {
		cfg.PollIdle = idle.Sleep{Period: 100 * time.Microsecond}
	}
	rec := metrics.NewRecorder(1024)
	p := New(cfg, conn, rec, zaptest.NewLogger(t), opts...)
	assert.Equal(t, StateCreated, p.State())

	h, err := p.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Stop() })
	return h, rec
}

func TestPipeline_TickSurvivesBackpressure(t *testing.T) {
	ch := &memChannel{fullFor: 2}
	seen := make(chan observed, 1)

	h, _ := startPipeline(t, ch.conn(), Config{
		PublishIdle: &idle.Counting{},
		Clock:       fixedClock(7_000),
	}, WithTickObserver(func(tk tick.Tick, latency time.Duration) {
		seen <- observed{tk, latency}
	}))

	in := btc()
	res, err := h.Publish(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)

	select {
	case got := <-seen:
		in.Timestamp = 7_000
		assert.Equal(t, in, got.tick)
		assert.Equal(t, time.Duration(0), got.latency)
	case <-time.After(time.Second):
		t.Fatal("tick never reached the poller")
	}
}

func TestPipeline_ThreeTicksMedian(t *testing.T) {
	var now atomic.Int64
	stepping := clock.Func(func() int64 { return now.Add(1_000) })

	var mu sync.Mutex
	var latencies []time.Duration
	h, rec := startPipeline(t, (&memChannel{}).conn(), Config{Clock: stepping},
		WithTickObserver(func(_ tick.Tick, latency time.Duration) {
			mu.Lock()
			latencies = append(latencies, latency)
			mu.Unlock()
		}))

	for _, symbol := range []string{"BTCUSDT", "ETHUSDT", "BTCUSDT"} {
		tk := btc()
		tk.Symbol = symbol
		_, err := h.Publish(context.Background(), tk)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return rec.Counter(metrics.CounterReceived) == 3
	}, time.Second, time.Millisecond)

	snap := rec.Snapshot()
	assert.Equal(t, uint64(3), snap.Count)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, latencies, 3)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	assert.Equal(t, latencies[1], snap.P50)
	for _, l := range latencies {
		assert.Positive(t, l)
	}
}

func TestPipeline_RingLatencyIsNonNegative(t *testing.T) {
	conn, driver, err := ring.Open(ring.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	h, rec := startPipeline(t, conn, DefaultConfig())
	for i := 0; i < 100; i++ {
		_, err := h.Publish(context.Background(), btc())
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return rec.Counter(metrics.CounterReceived) == 100
	}, 2*time.Second, time.Millisecond)

	snap := rec.Snapshot()
	assert.GreaterOrEqual(t, snap.Min, time.Duration(0))
	assert.Equal(t, int64(0), rec.Counter(metrics.CounterClockAnomalies))

	require.NoError(t, h.Stop())
	_, err = driver.AddPublication(ring.DefaultChannel, 1)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestPipeline_StartTwice(t *testing.T) {
	rec := metrics.NewRecorder(16)
	p := New(Config{}, (&memChannel{}).conn(), rec, zaptest.NewLogger(t))

	h, err := p.Start(context.Background())
	require.NoError(t, err)
	defer h.Stop()

	_, err = p.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestHandle_StopIsIdempotent(t *testing.T) {
	ch := &memChannel{}
	h, rec := startPipeline(t, ch.conn(), Config{})
	assert.True(t, h.Ready())

	for i := 0; i < 3; i++ {
		_, err := h.Publish(context.Background(), btc())
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return rec.Counter(metrics.CounterReceived) == 3
	}, time.Second, time.Millisecond)

	require.NoError(t, h.Stop())
	before := rec.Counters()

	require.NoError(t, h.Stop())
	assert.Equal(t, before, rec.Counters())
	assert.Equal(t, StateClosed, h.State())
	assert.NoError(t, h.Err())
	assert.False(t, h.Ready())

	pub, sub, driver := ch.closed()
	assert.True(t, pub)
	assert.True(t, sub)
	assert.True(t, driver)

	_, err := h.Publish(context.Background(), btc())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestHandle_StopAttemptsEveryClose(t *testing.T) {
	ch := &memChannel{
		subCloseErr:    assert.AnError,
		driverCloseErr: assert.AnError,
	}
	h, _ := startPipeline(t, ch.conn(), Config{})

	err := h.Stop()
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	var resources []string
	for _, e := range errs {
		var terr *TeardownError
		require.ErrorAs(t, e, &terr)
		assert.ErrorIs(t, terr, assert.AnError)
		resources = append(resources, terr.Resource)
	}
	assert.Equal(t, []string{"subscription", "driver"}, resources)

	pub, sub, driver := ch.closed()
	assert.True(t, pub)
	assert.True(t, sub)
	assert.True(t, driver)
	assert.Equal(t, StateClosed, h.State())

	assert.Equal(t, err, h.Stop())
}

func TestHandle_TransportLostStopsPipeline(t *testing.T) {
	ch := &memChannel{}

	var mu sync.Mutex
	var states []State
	h, _ := startPipeline(t, ch.conn(), Config{}, WithStateListener(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))

	ch.setPollErr(transport.ErrClosed)

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("pipeline did not stop after losing its transport")
	}

	assert.ErrorIs(t, h.Err(), ErrTransportLost)
	assert.Equal(t, StateClosed, h.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateStarting, StateRunning, StateFaulted, StateStopping, StateClosed}, states)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "faulted", StateFaulted.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.Equal(t, "sent", OutcomeSent.String())
}

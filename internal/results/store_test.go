package results

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RunLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, err := store.StartRun(ctx, "ring", "loadgen", 1_000)
	require.NoError(t, err)
	second, err := store.StartRun(ctx, "kafka", "feed", 2_000)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	require.NoError(t, store.FinishRun(ctx, first.ID, 1_500))
	assert.ErrorIs(t, store.FinishRun(ctx, "missing", 1), ErrNotFound)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.False(t, runs[0].StoppedUnixMillis.Valid)
	assert.Equal(t, "ring", runs[1].Transport)
	assert.Equal(t, int64(1_500), runs[1].StoppedUnixMillis.Int64)
}

func TestStore_LatestSnapshot(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	run, err := store.StartRun(ctx, "nats", "feed", 1_000)
	require.NoError(t, err)

	_, err = store.LatestSnapshot(ctx, run.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rec := metrics.NewRecorder(16)
	for _, d := range []time.Duration{3, 1, 2} {
		rec.Record(d * time.Millisecond)
		rec.Inc(metrics.CounterReceived)
	}
	require.NoError(t, store.SaveSnapshot(ctx, NewSnapshot(run.ID, rec.Snapshot(), rec.Counters(), 1_100)))

	rec.Record(9 * time.Millisecond)
	rec.Inc(metrics.CounterReceived)
	require.NoError(t, store.SaveSnapshot(ctx, NewSnapshot(run.ID, rec.Snapshot(), rec.Counters(), 1_200)))

	snap, err := store.LatestSnapshot(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_200), snap.TsUnixMillis)
	assert.Equal(t, int64(4), snap.Count)
	assert.Equal(t, int64(4), snap.Received)
	assert.Equal(t, 2*time.Millisecond, snap.P50())
	assert.Equal(t, 9*time.Millisecond, snap.P99())
}

func TestReporter_WritesFinalSnapshot(t *testing.T) {
	store := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	run, err := store.StartRun(ctx, "redis", "loadgen", 1_000)
	require.NoError(t, err)

	rec := metrics.NewRecorder(16)
	rec.Record(5 * time.Millisecond)
	rec.Inc(metrics.CounterPublished)

	reporter := NewReporter(store, rec, run.ID, time.Hour, zaptest.NewLogger(t))
	done := make(chan error, 1)
	go func() { done <- reporter.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop")
	}

	snap, err := store.LatestSnapshot(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Published)
	assert.Equal(t, 5*time.Millisecond, snap.P50())
}

func TestReporter_WithoutStore(t *testing.T) {
	rec := metrics.NewRecorder(16)
	reporter := NewReporter(nil, rec, "run", time.Millisecond, zaptest.NewLogger(t))
	reporter.Report(context.Background())
}

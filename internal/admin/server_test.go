package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ismaiel54/transport-latency-bench/internal/feed"
	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubPairs struct {
	subs *feed.Subscriptions
	err  error
}

func (s *stubPairs) Subscribe(pair string) error {
	if s.err != nil {
		return s.err
	}
	if feed.NormalizePair(pair) == "" {
		return feed.ErrInvalidPair
	}
	if !s.subs.Subscribe(pair) {
		return fmt.Errorf("%w: %s", feed.ErrAlreadySubscribed, pair)
	}
	return nil
}

func (s *stubPairs) Pairs() []string { return s.subs.List() }

func setupServer(t *testing.T, pairs PairSubscriber) (*Server, *metrics.Recorder) {
	gin.SetMode(gin.TestMode)
	rec := metrics.NewRecorder(16)
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(rec, "ring"))

	srv := NewServer(pairs, rec, "ring", func() string { return "running" }, registry, zaptest.NewLogger(t))
	return srv, rec
}

func do(srv *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestAddPair(t *testing.T) {
	srv, _ := setupServer(t, &stubPairs{subs: feed.NewSubscriptions("btcusdt")})

	w := do(srv, http.MethodPost, "/pairs/add?pair=ETHUSDT")
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "subscribed", resp["status"])
	assert.Equal(t, "ethusdt", resp["pair"])

	w = do(srv, http.MethodPost, "/pairs/add?pair=btcusdt")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "already subscribed")

	w = do(srv, http.MethodPost, "/pairs/add")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(srv, http.MethodPost, "/pairs/add?pair=eth%2Fusdt")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(srv, http.MethodGet, "/pairs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"pairs":["btcusdt","ethusdt"]}`, w.Body.String())
}

func TestAddPair_SubscribeFailure(t *testing.T) {
	srv, _ := setupServer(t, &stubPairs{subs: feed.NewSubscriptions(), err: assert.AnError})

	w := do(srv, http.MethodPost, "/pairs/add?pair=ethusdt")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPairs_NoFeed(t *testing.T) {
	srv, _ := setupServer(t, nil)

	assert.Equal(t, http.StatusServiceUnavailable, do(srv, http.MethodPost, "/pairs/add?pair=ethusdt").Code)
	w := do(srv, http.MethodGet, "/pairs")
	assert.JSONEq(t, `{"pairs":[]}`, w.Body.String())
}

func TestStats(t *testing.T) {
	srv, rec := setupServer(t, nil)
	for _, d := range []time.Duration{10, 20, 30} {
		rec.Record(d * time.Microsecond)
		rec.Inc(metrics.CounterReceived)
	}

	w := do(srv, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ring", resp.Transport)
	assert.Equal(t, "running", resp.State)
	assert.Equal(t, uint64(3), resp.Latency.Count)
	assert.Equal(t, 20.0, resp.Latency.P50Us)
	assert.Equal(t, 30.0, resp.Latency.MaxUs)
	assert.Equal(t, int64(3), resp.Counters[metrics.CounterReceived])
}

func TestMetrics(t *testing.T) {
	srv, rec := setupServer(t, nil)
	rec.Inc(metrics.CounterPublished)

	w := do(srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `latency_bench_events_total{name="messages.published",transport="ring"} 1`), body)
	assert.Contains(t, body, "latency_bench_latency_seconds")
}

// Package admin serves the HTTP control surface: pair subscription,
// latency statistics and the Prometheus scrape endpoint.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/ismaiel54/transport-latency-bench/internal/feed"
	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PairSubscriber adds pairs to the live feed.
type PairSubscriber interface {
	Subscribe(pair string) error
	Pairs() []string
}

// StatusFunc reports the current pipeline state.
type StatusFunc func() string

// Server is the admin HTTP server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	pairs      PairSubscriber
	rec        *metrics.Recorder
	transport  string
	status     StatusFunc
	logger     *zap.Logger
}

// NewServer creates the admin server. pairs may be nil when no feed is
// running, in which case the pair routes answer 503.
func NewServer(pairs PairSubscriber, rec *metrics.Recorder, transportKind string, status StatusFunc, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	s := &Server{
		router:    router,
		pairs:     pairs,
		rec:       rec,
		transport: transportKind,
		status:    status,
		logger:    logger,
	}

	router.POST("/pairs/add", s.addPair)
	router.GET("/pairs", s.listPairs)
	router.GET("/stats", s.stats)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return s
}

// Router returns the gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting admin server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) addPair(c *gin.Context) {
	if s.pairs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feed not running"})
		return
	}

	pair := c.Query("pair")
	if pair == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pair is required"})
		return
	}

	if err := s.pairs.Subscribe(pair); err != nil {
		switch {
		case errors.Is(err, feed.ErrAlreadySubscribed):
			c.JSON(http.StatusBadRequest, gin.H{"error": "already subscribed", "pair": feed.NormalizePair(pair)})
		case errors.Is(err, feed.ErrInvalidPair):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pair", "pair": pair})
		default:
			s.logger.Error("failed to subscribe pair", zap.String("pair", pair), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "subscribed", "pair": feed.NormalizePair(pair)})
}

func (s *Server) listPairs(c *gin.Context) {
	if s.pairs == nil {
		c.JSON(http.StatusOK, gin.H{"pairs": []string{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pairs": s.pairs.Pairs()})
}

// LatencyStats is the latency part of the /stats response, in
// microseconds.
type LatencyStats struct {
	Count  uint64  `json:"count"`
	Window int     `json:"window"`
	MinUs  float64 `json:"min_us"`
	MeanUs float64 `json:"mean_us"`
	P50Us  float64 `json:"p50_us"`
	P95Us  float64 `json:"p95_us"`
	P99Us  float64 `json:"p99_us"`
	MaxUs  float64 `json:"max_us"`
}

// StatsResponse is the /stats body.
type StatsResponse struct {
	Transport string           `json:"transport"`
	State     string           `json:"state,omitempty"`
	Latency   LatencyStats     `json:"latency"`
	Counters  map[string]int64 `json:"counters"`
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

func (s *Server) stats(c *gin.Context) {
	snap := s.rec.Snapshot()
	resp := StatsResponse{
		Transport: s.transport,
		Latency: LatencyStats{
			Count:  snap.Count,
			Window: snap.Window,
			MinUs:  micros(snap.Min),
			MeanUs: micros(snap.Mean),
			P50Us:  micros(snap.P50),
			P95Us:  micros(snap.P95),
			P99Us:  micros(snap.P99),
			MaxUs:  micros(snap.Max),
		},
		Counters: s.rec.Counters(),
	}
	if s.status != nil {
		resp.State = s.status()
	}
	c.JSON(http.StatusOK, resp)
}

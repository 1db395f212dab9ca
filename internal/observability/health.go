// Package observability exposes process health over gRPC and HTTP.
// Readiness follows the relay pipeline: the process is ready only while
// the pipeline is running.
package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// PipelineService is the gRPC health service name for the relay pipeline.
const PipelineService = "latency.pipeline"

// HealthChecker manages health checks for both gRPC and HTTP
type HealthChecker struct {
	grpcHealth    *health.Server
	httpServer    *http.Server
	logger        *zap.Logger
	mu            sync.RWMutex
	alive         bool
	pipelineReady bool
	pipelineState string
}

// NewHealthChecker creates a new health checker. The process is alive but
// not ready until SetPipelineReady(true).
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthChecker{
		grpcHealth: health.NewServer(),
		logger:     logger,
		alive:      true,
	}
	h.grpcHealth.SetServingStatus(PipelineService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return h
}

// RegisterGRPC registers the health service with the gRPC server
func (h *HealthChecker) RegisterGRPC(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, h.grpcHealth)
	h.grpcHealth.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
}

// Server returns the gRPC health server.
func (h *HealthChecker) Server() grpc_health_v1.HealthServer {
	return h.grpcHealth
}

// Handler returns the HTTP handler serving /healthz and /readyz.
func (h *HealthChecker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)
	return mux
}

// StartHTTPServer starts the HTTP health check server
func (h *HealthChecker) StartHTTPServer(addr string) error {
	h.mu.Lock()
	h.httpServer = &http.Server{
		Addr:    addr,
		Handler: h.Handler(),
	}
	srv := h.httpServer
	h.mu.Unlock()

	h.logger.Info("starting HTTP health server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the health checker
func (h *HealthChecker) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.alive = false
	h.pipelineReady = false
	srv := h.httpServer
	h.mu.Unlock()

	h.grpcHealth.Shutdown()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// SetPipelineReady records whether the pipeline is running. state is the
// pipeline state name reported by /readyz.
func (h *HealthChecker) SetPipelineReady(ready bool, state string) {
	h.mu.Lock()
	changed := h.pipelineReady != ready
	h.pipelineReady = ready
	h.pipelineState = state
	h.mu.Unlock()

	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ready {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.grpcHealth.SetServingStatus(PipelineService, status)

	if changed {
		h.logger.Info("pipeline readiness changed",
			zap.Bool("ready", ready),
			zap.String("state", state),
		)
	}
}

// Ready reports whether the pipeline is running.
func (h *HealthChecker) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.alive && h.pipelineReady
}

func (h *HealthChecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	alive := h.alive
	h.mu.RUnlock()

	if alive {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("SHUTTING_DOWN"))
	}
}

func (h *HealthChecker) handleReadyz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.alive && h.pipelineReady
	state := h.pipelineState
	h.mu.RUnlock()

	if ready {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	if state == "" {
		state = "NOT_READY"
	}
	w.Write([]byte(state))
}

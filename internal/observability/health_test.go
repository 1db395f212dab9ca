package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func pipelineStatus(t *testing.T, h *HealthChecker) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.Server().Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: PipelineService})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthChecker_FollowsPipeline(t *testing.T) {
	h := NewHealthChecker(zaptest.NewLogger(t))
	handler := h.Handler()

	assert.Equal(t, http.StatusOK, get(handler, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(handler, "/readyz").Code)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, pipelineStatus(t, h))

	h.SetPipelineReady(true, "running")
	assert.True(t, h.Ready())
	assert.Equal(t, http.StatusOK, get(handler, "/readyz").Code)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, pipelineStatus(t, h))

	h.SetPipelineReady(false, "faulted")
	w := get(handler, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "faulted", w.Body.String())
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, pipelineStatus(t, h))
}

func TestHealthChecker_Shutdown(t *testing.T) {
	h := NewHealthChecker(zaptest.NewLogger(t))
	h.SetPipelineReady(true, "running")

	require.NoError(t, h.Shutdown(context.Background()))
	assert.False(t, h.Ready())
	assert.Equal(t, http.StatusServiceUnavailable, get(h.Handler(), "/healthz").Code)
}

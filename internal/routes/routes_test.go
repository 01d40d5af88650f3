package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/secureflow/backend/internal/cache"
	"github.com/secureflow/backend/internal/normalizer"
	"github.com/secureflow/backend/internal/services"
	"github.com/secureflow/backend/internal/store"
	"github.com/secureflow/backend/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDeps(t *testing.T) Dependencies {
	t.Helper()
	st, err := store.OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := stream.NewBus(stream.Config{}, nil)
	t.Cleanup(bus.Stop)

	return Dependencies{
		Logs:    services.NewLogService(st, cache.New(0), bus, normalizer.New(), nil),
		KB:      services.NewKBService(st, nil),
		Metrics: services.NewMetricsService(st, nil),
	}
}

func TestRouterRegistersRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(newDeps(t))

	registered := map[string]bool{}
	for _, route := range r.Routes() {
		registered[route.Method+" "+route.Path] = true
	}
	for _, want := range []string{
		"GET /", "GET /health", "GET /events", "GET /ws",
		"POST /api/logs", "GET /api/logs", "GET /api/logs/:key", "PUT /api/logs/:key",
		"POST /api/logs/:key/learn", "GET /api/learn-queue", "GET /api/summary", "GET /api/metrics",
		"POST /security-kb", "GET /security-kb/examples", "GET /security-kb/export",
		"GET /debug/logs", "GET /debug/kb",
	} {
		assert.True(t, registered[want], want)
	}
	assert.False(t, registered["GET /metrics"], "metrics endpoint needs a gatherer")
}

func TestRouterWithTracing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newDeps(t)
	deps.ServiceName = "secureflow-test"
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "SecureFlow backend running")
}

func TestIngestRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newDeps(t)
	deps.IngestRateLimit = 0.001
	deps.IngestBurst = 1
	r := NewRouter(deps)

	post := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/logs", nil)
		r.ServeHTTP(w, req)
		return w.Code
	}
	// An empty body is rejected by the normalizer but still consumes a token.
	assert.Equal(t, http.StatusBadRequest, post())
	assert.Equal(t, http.StatusTooManyRequests, post())
}

package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/secureflow/backend/internal/cache"
	"github.com/secureflow/backend/internal/normalizer"
	"github.com/secureflow/backend/internal/routes"
	"github.com/secureflow/backend/internal/services"
	"github.com/secureflow/backend/internal/store"
	"github.com/secureflow/backend/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const healthyBody = `{
	"status": "ok",
	"timestamp": "2025-06-01T09:00:00Z",
	"version": "1.0.0",
	"services": {
		"store": {"status": "ok"},
		"cache": {"records": 0},
		"stream": {"subscribers": 2, "seq": 7}
	}
}`

func TestCheckHealthy(t *testing.T) {
	h, err := check([]byte(healthyBody))
	require.NoError(t, err)
	assert.Equal(t, 0, *h.Services.Cache.Records)
	assert.Equal(t, 2, *h.Services.Stream.Subscribers)
	assert.Equal(t, uint64(7), *h.Services.Stream.Seq)
}

func TestCheckRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", `<html>`, "parse health response"},
		{"cache records missing", `{"status":"ok","timestamp":"2025-06-01T09:00:00Z","version":"1.0.0","services":{"store":{"status":"ok"},"cache":{},"stream":{"subscribers":0,"seq":0}}}`, "services.cache.records missing"},
		{"stream missing", `{"status":"ok","timestamp":"2025-06-01T09:00:00Z","version":"1.0.0","services":{"store":{"status":"ok"},"cache":{"records":1}}}`, "services.stream.seq missing"},
		{"store down", `{"status":"error","timestamp":"2025-06-01T09:00:00Z","version":"1.0.0","services":{"store":{"status":"error","error":"DB Closed"},"cache":{"records":1},"stream":{"subscribers":0,"seq":0}}}`, "DB Closed"},
		{"bad timestamp", `{"status":"ok","timestamp":"yesterday","version":"1.0.0","services":{"store":{"status":"ok"},"cache":{"records":1},"stream":{"subscribers":0,"seq":0}}}`, "timestamp"},
		{"negative cache size", `{"status":"ok","timestamp":"2025-06-01T09:00:00Z","version":"1.0.0","services":{"store":{"status":"ok"},"cache":{"records":-1},"stream":{"subscribers":0,"seq":0}}}`, "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := check([]byte(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error"}`))
			return
		}
		w.Write([]byte(healthyBody))
	}))
	defer srv.Close()
	client := &http.Client{Timeout: time.Second}

	body, err := fetch(client, srv.URL+"/health")
	require.NoError(t, err)
	_, err = check(body)
	assert.NoError(t, err)

	body, err = fetch(client, srv.URL+"/down")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.JSONEq(t, `{"status":"error"}`, string(body))
}

func TestCheckAgainstRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st, err := store.OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	bus := stream.NewBus(stream.Config{}, nil)
	t.Cleanup(bus.Stop)

	srv := httptest.NewServer(routes.NewRouter(routes.Dependencies{
		Logs:    services.NewLogService(st, cache.New(0), bus, normalizer.New(), nil),
		KB:      services.NewKBService(st, nil),
		Metrics: services.NewMetricsService(st, nil),
	}))
	defer srv.Close()

	body, err := fetch(srv.Client(), srv.URL+"/health")
	require.NoError(t, err)
	h, err := check(body)
	require.NoError(t, err)
	assert.Equal(t, 0, *h.Services.Cache.Records)
	assert.Equal(t, uint64(0), *h.Services.Stream.Seq)
}

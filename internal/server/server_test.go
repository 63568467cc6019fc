package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	up   = pingFunc(func(context.Context) error { return nil })
	down = pingFunc(func(context.Context) error { return errors.New("connection refused") })
)

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		checks         map[string]HealthChecker
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "all components up",
			checks:         map[string]HealthChecker{"store": up, "cache": up},
			expectedStatus: http.StatusOK,
			expectedBody:   "healthy",
		},
		{
			name:           "cache down degrades",
			checks:         map[string]HealthChecker{"store": up, "cache": down},
			expectedStatus: http.StatusOK,
			expectedBody:   "degraded",
		},
		{
			name:           "store down is unhealthy",
			checks:         map[string]HealthChecker{"store": down, "cache": up},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(":0", Options{Mode: "test", Checks: tt.checks})

			w := httptest.NewRecorder()
			s.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tt.expectedStatus, w.Code)
			var body struct {
				Status     string            `json:"status"`
				Components map[string]string `json:"components"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.expectedBody, body.Status)
			assert.Len(t, body.Components, 2)
		})
	}
}

func TestNew_MountsMetricsAndRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_hits_total", Help: "hits"})
	reg.MustRegister(hits)
	hits.Inc()

	s := New(":0", Options{Checks: map[string]HealthChecker{"store": up}, Gatherer: reg}, pingRoutes{})

	w := httptest.NewRecorder()
	s.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "test_hits_total 1"))

	w = httptest.NewRecorder()
	s.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

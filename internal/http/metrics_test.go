package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.PATCH("/api/v1/steps/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	for _, path := range []string{"/api/v1/steps/a", "/api/v1/steps/b"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, path, nil))
	}
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodPatch, "/api/v1/steps/:id", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodGet, "/health", "200")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRequests))
	assert.Equal(t, 3, testutil.CollectAndCount(m.requestsTotal))
}

func TestHTTPMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	_, err = NewHTTPMetrics(reg)
	assert.Error(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	ts.do(http.MethodGet, "/health", nil)
	rec := ts.do(http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `taskflow_http_requests_total{endpoint="/health",method="GET",status="200"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "unmatched", normalizePath(""))
	assert.Equal(t, "/api/v1/steps/:id", normalizePath("/api/v1/steps/:id"))
}

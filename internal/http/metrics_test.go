package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/fleetd/internal/logging"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newHTTPMetrics(mp.Meter(httpInstrumentationName), logging.NewNop())

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/threads/:id", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: KindNotFound, Message: c.Param("id")})
	})

	for _, path := range []string{"/health", "/api/v1/threads/chat-1", "/api/v1/threads/chat-2"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	metrics := collect(t, reader)

	requests, ok := metrics["fleetd.http.requests_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok, "requests counter missing")
	byRoute := make(map[string]int64)
	for _, dp := range requests.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		class, _ := dp.Attributes.Value(attribute.Key("status_class"))
		byRoute[route.AsString()+" "+class.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{
		"/health 2xx":             1,
		"/api/v1/threads/:id 4xx": 2,
	}, byRoute)

	duration, ok := metrics["fleetd.http.request_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok, "duration histogram missing")
	var count uint64
	for _, dp := range duration.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	assert.Contains(t, metrics, "fleetd.http.response_size_bytes")

	active, ok := metrics["fleetd.http.active_requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok, "active requests missing")
	for _, dp := range active.DataPoints {
		assert.Zero(t, dp.Value)
	}
}

func TestRouteLabelAndStatusClass(t *testing.T) {
	assert.Equal(t, "unmatched", routeLabel(""))
	assert.Equal(t, "/api/v1/chat", routeLabel("/api/v1/chat"))

	assert.Equal(t, "2xx", statusClass(http.StatusOK))
	assert.Equal(t, "5xx", statusClass(http.StatusGatewayTimeout))
	assert.Equal(t, "unknown", statusClass(0))
}

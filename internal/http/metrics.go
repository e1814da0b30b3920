package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fleetd/internal/logging"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/fleetd/internal/http"

// Bucket boundaries cover a cached health probe up to a full pipeline run
// against a local model.
var requestDurationBuckets = []float64{0.001, 0.01, 0.05, 0.25, 1, 2.5, 5, 15, 30, 60, 120, 300}

// HTTPMetrics records request counts, latency, response size and
// in-flight requests per route.
type HTTPMetrics struct {
	requests     metric.Int64Counter
	duration     metric.Float64Histogram
	responseSize metric.Int64Histogram
	inFlight     metric.Int64UpDownCounter
}

// NewHTTPMetrics creates instruments on the global meter provider.
// Instruments that fail to register are skipped and logged.
func NewHTTPMetrics(logger *logging.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}

	m := &HTTPMetrics{}
	var errs []error
	var err error

	m.requests, err = meter.Int64Counter("fleetd.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status class."),
		metric.WithUnit("{request}"))
	errs = append(errs, wrapInstrument("requests_total", err))

	m.duration, err = meter.Float64Histogram("fleetd.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency. Chat requests include the whole pipeline run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(requestDurationBuckets...))
	errs = append(errs, wrapInstrument("request_duration_seconds", err))

	m.responseSize, err = meter.Int64Histogram("fleetd.http.response_size_bytes",
		metric.WithDescription("HTTP response body size."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(64, 256, 1024, 4096, 16384, 65536))
	errs = append(errs, wrapInstrument("response_size_bytes", err))

	m.inFlight, err = meter.Int64UpDownCounter("fleetd.http.active_requests",
		metric.WithDescription("HTTP requests currently being served."),
		metric.WithUnit("{request}"))
	errs = append(errs, wrapInstrument("active_requests", err))

	if err := errors.Join(errs...); err != nil {
		logger.Warn(context.Background(), "some http instruments are disabled", zap.Error(err))
	}
	return m
}

func wrapInstrument(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()

			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)

			res := c.Response()
			opt := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.String("status_class", statusClass(res.Status)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, opt)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), opt)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, res.Size, opt)
			}
			return err
		}
	}
}

// routeLabel is the registered route pattern, so thread ids never become
// label values. Unmatched requests share one label.
func routeLabel(pattern string) string {
	if pattern == "" {
		return "unmatched"
	}
	return pattern
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", status/100)
}

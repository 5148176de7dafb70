// Package telemetry unifies OpenTelemetry tracing (Google Cloud) and Prometheus metrics.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/rendertron/internal/config"
)

// Render kinds used as metric labels.
const (
	KindHTML       = "html"
	KindScreenshot = "screenshot"
)

// Render outcomes used as metric labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

const instrumentationName = "github.com/JakeFAU/rendertron"

var (
	rendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rendertron_renders_total",
			Help: "Total number of render sessions, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	renderDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rendertron_render_duration_seconds",
			Help:    "Histogram of render session latencies, labeled by kind.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	restrictedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rendertron_restricted_total",
			Help: "Total number of requests refused by the URL gatekeeper, labeled by kind.",
		},
		[]string{"kind"},
	)

	failuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rendertron_failures_total",
			Help: "Total number of unexpected request failures counted toward escalation.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rendertron_rate_limit_delay_seconds",
			Help:    "Time render sessions spent waiting on the per-host rate limiter.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"host"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rendertron_active_sessions",
			Help: "Number of browser sessions currently open.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
)

var (
	initOnce  sync.Once
	traceProv *sdktrace.TracerProvider
	meterProv *metric.MeterProvider
	initErr   error
)

// Init sets up tracing (exported to Cloud Trace when a project is configured)
// and bridges OpenTelemetry metrics into the default Prometheus registry.
// Only the first call does any work.
func Init(ctx context.Context, cfg config.TelemetryConfig) (*sdktrace.TracerProvider, *metric.MeterProvider, error) {
	initOnce.Do(func() {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(cfg.ServiceName),
				semconv.ServiceVersion(cfg.Version),
			),
		)
		if err != nil {
			initErr = fmt.Errorf("create resource: %w", err)
			return
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		}
		if cfg.ProjectID != "" {
			exporter, err := texporter.New(texporter.WithProjectID(cfg.ProjectID))
			if err != nil {
				initErr = fmt.Errorf("create google trace exporter: %w", err)
				return
			}
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}
		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)

		promExporter, err := otelprom.New(otelprom.WithRegisterer(prometheus.DefaultRegisterer))
		if err != nil {
			initErr = fmt.Errorf("create prometheus exporter: %w", err)
			return
		}
		mp := metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(promExporter),
		)
		otel.SetMeterProvider(mp)

		traceProv = tp
		meterProv = mp
	})
	return traceProv, meterProv, initErr
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRender records a finished render session.
func ObserveRender(kind string, err error, duration time.Duration) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	rendersTotal.WithLabelValues(kind, outcome).Inc()
	renderDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveRestricted records a request refused by the gatekeeper.
func ObserveRestricted(kind string) {
	restrictedTotal.WithLabelValues(kind).Inc()
}

// ObserveFailure records an unexpected failure.
func ObserveFailure() {
	failuresTotal.Inc()
}

// ObserveRateLimitDelay records time spent waiting for a host's rate budget.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// SessionOpened increments the open session gauge.
func SessionOpened() {
	activeSessions.Inc()
}

// SessionClosed decrements the open session gauge.
func SessionClosed() {
	activeSessions.Dec()
}

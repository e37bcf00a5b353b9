// Package telemetry wires up OpenTelemetry metrics for snapupd, exported in
// Prometheus format over a dedicated HTTP endpoint.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Config controls the telemetry subsystem.
type Config struct {
	// Enabled toggles metrics and tracing entirely. When false, no-op
	// providers are handed out and no listener is started.
	Enabled bool `yaml:"enabled"`
	// ServiceName tags exported metrics and traces.
	ServiceName string `yaml:"service_name"`
	// PrometheusPort is the port serving /metrics.
	PrometheusPort int `yaml:"prometheus_port"`
}

// Telemetry bundles the active meter and tracer for the process.
type Telemetry struct {
	Meter  metric.Meter
	Tracer trace.Tracer
}

// ShutdownFunc flushes and stops the telemetry providers.
type ShutdownFunc func(ctx context.Context) error

// New initializes the OpenTelemetry SDK with a Prometheus metric exporter and
// starts the /metrics endpoint. The returned shutdown function must be called
// before process exit to flush buffered telemetry.
func New(cfg Config, log *zap.Logger) (*Telemetry, ShutdownFunc, error) {
	if !cfg.Enabled {
		return &Telemetry{
			Meter:  metricnoop.NewMeterProvider().Meter(""),
			Tracer: tracenoop.NewTracerProvider().Tracer(""),
		}, func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	exporter, err := otelprom.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	srv := serveMetrics(cfg.PrometheusPort, log)

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("Metrics endpoint shutdown failed", zap.Error(err))
		}
		if err := meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown meter provider: %w", err)
		}
		return tracerProvider.Shutdown(ctx)
	}

	return &Telemetry{
		Meter:  meterProvider.Meter(cfg.ServiceName),
		Tracer: tracerProvider.Tracer(cfg.ServiceName),
	}, shutdown, nil
}

// serveMetrics exposes the Prometheus /metrics endpoint on its own server so
// the daemon never touches the default mux.
func serveMetrics(port int, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Prometheus endpoint failed", zap.Error(err))
		}
	}()
	return srv
}

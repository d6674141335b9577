// Package telemetry sets up the OpenTelemetry tracer and meter providers
// and exposes pipeline metrics in the Prometheus text format.
package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// Config selects exporters.
type Config struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string
	// Version is reported as service.version when set.
	Version string
	// OTLPEndpoint enables the OTLP gRPC trace exporter.
	OTLPEndpoint string
	// OTLPInsecure disables TLS for the OTLP exporter.
	OTLPInsecure bool
	// TraceStdout prints spans when no OTLP endpoint is set.
	TraceStdout bool
	// TraceWriter receives stdout spans. Defaults to os.Stdout.
	TraceWriter io.Writer
	// Metrics enables the Prometheus reader.
	Metrics bool
}

// Telemetry holds the installed providers.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	metricsHandler http.Handler
}

// Setup builds the providers and installs them as the otel globals.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(cfg.ServiceName))}
	if cfg.Version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.Version)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, err
	}

	tp, err := initTracer(ctx, cfg, res, logger)
	if err != nil {
		return nil, err
	}

	mp, handler, err := initMetrics(cfg, res, logger)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Telemetry{tracerProvider: tp, meterProvider: mp, metricsHandler: handler}, nil
}

// MetricsHandler serves /metrics, or returns nil when metrics are disabled.
func (t *Telemetry) MetricsHandler() http.Handler {
	return t.metricsHandler
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.meterProvider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func initTracer(ctx context.Context, cfg Config, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		logger.Info("telemetry initialized", slog.String("exporter", "otlp"), slog.String("endpoint", endpoint))
		return sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		), nil
	}

	if cfg.TraceStdout {
		var opts []stdouttrace.Option
		if cfg.TraceWriter != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.TraceWriter))
		}
		exporter, err := stdouttrace.New(opts...)
		if err != nil {
			return nil, err
		}
		logger.Info("telemetry initialized", slog.String("exporter", "stdout"))
		return sdktrace.NewTracerProvider(
			sdktrace.WithSyncer(exporter),
			sdktrace.WithResource(res),
		), nil
	}

	// Spans are still created so trace IDs propagate, but nothing is exported.
	return sdktrace.NewTracerProvider(sdktrace.WithResource(res)), nil
}

func initMetrics(cfg Config, res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler, error) {
	if !cfg.Metrics {
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil, nil
	}

	registry := promclient.NewRegistry()
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil, nil
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	return mp, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

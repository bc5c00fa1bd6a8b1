package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ambiware-labs/verba/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// telemetry bundles the tracer and meter providers with their teardown and
// the Prometheus scrape handler, when one could be built.
type telemetry struct {
	metricsHandler http.Handler
	shutdowns      []func(context.Context) error
}

func (t *telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdowns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// setupTelemetry installs global otel providers: traces go to an OTLP
// collector when one is configured, otherwise to stdout; metrics are exposed
// for Prometheus scraping on the runtime's HTTP surface.
func setupTelemetry(cfg config.Config, logger *slog.Logger) (*telemetry, error) {
	ctx := context.Background()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	t := &telemetry{}

	exporter, exporterName, err := newTraceExporter(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	t.shutdowns = append(t.shutdowns, tracerProvider.Shutdown)
	logger.Info("telemetry initialized", slog.String("trace_exporter", exporterName))

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if promExporter, err := prometheus.New(); err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
	} else {
		meterOpts = append(meterOpts, sdkmetric.WithReader(promExporter))
		t.metricsHandler = promhttp.Handler()
	}
	meterProvider := sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetMeterProvider(meterProvider)
	t.shutdowns = append(t.shutdowns, meterProvider.Shutdown)

	return t, nil
}

func newTraceExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, string, error) {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		return exporter, "otlp:" + endpoint, err
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	return exporter, "stdout", err
}

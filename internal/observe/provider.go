package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName is reported when [ProviderConfig.ServiceName] is empty.
const DefaultServiceName = "minestream"

// ProviderConfig describes the voice engine instance to the telemetry SDK.
type ProviderConfig struct {
	// ServiceName defaults to [DefaultServiceName].
	ServiceName string

	// ServiceVersion is the build version, "dev" for local builds.
	ServiceVersion string

	// InstanceID distinguishes replicas that share one inference fleet,
	// typically the host name. Omitted when empty.
	InstanceID string

	// TraceExporter receives generate, clone and storage spans. Nil keeps
	// spans in-process only; trace IDs still reach the logs.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs the global meter and tracer providers for the
// process. Metrics are bridged to the default Prometheus registry and served
// by [MetricsHandler]; spans go to cfg.TraceExporter.
//
// The returned shutdown flushes pending spans before the meter provider is
// closed.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.InstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(cfg.InstanceID))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// MetricsHandler returns the /metrics scrape handler over the default
// Prometheus registry that [InitProvider] exports into.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

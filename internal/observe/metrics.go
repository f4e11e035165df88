// Package observe provides application-wide observability primitives for
// MineStream: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all MineStream metrics.
const meterName = "github.com/MrWong99/minestream"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the OTel instruments synchronise
// internally.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks end-to-end generate latency including queueing
	// and persistence. Use with attributes:
	//   attribute.String("strategy", ...), attribute.String("status", ...)
	SynthesisDuration metric.Float64Histogram

	// BackendDuration tracks a single model backend call. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	BackendDuration metric.Float64Histogram

	// QueueWait tracks how long a request waited for the backend gate.
	QueueWait metric.Float64Histogram

	// --- Counters ---

	// BackendRequests counts model backend calls. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// CloneFallbacks counts clone failures that were retried in design mode.
	CloneFallbacks metric.Int64Counter

	// ProfilesCreated counts voice profiles created. Use with attribute:
	//   attribute.String("kind", ...)
	ProfilesCreated metric.Int64Counter

	// UploadTranscodeFallbacks counts uploads stored raw because transcoding
	// failed.
	UploadTranscodeFallbacks metric.Int64Counter

	// AudioBytesWritten counts bytes persisted. Use with attribute:
	//   attribute.String("area", "upload"|"output")
	AudioBytesWritten metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes per backend
	// endpoint. Use with attributes:
	//   attribute.String("endpoint", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of generate requests waiting for the
	// backend.
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for batch
// speech synthesis, which runs from tens of milliseconds on a GPU to minutes
// on a CPU.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("minestream.synthesis.duration",
		metric.WithDescription("End-to-end latency of a generate request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendDuration, err = m.Float64Histogram("minestream.backend.duration",
		metric.WithDescription("Latency of a single model backend call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueWait, err = m.Float64Histogram("minestream.queue.wait",
		metric.WithDescription("Time spent waiting for the model backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BackendRequests, err = m.Int64Counter("minestream.backend.requests",
		metric.WithDescription("Total model backend calls by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.CloneFallbacks, err = m.Int64Counter("minestream.clone.fallbacks",
		metric.WithDescription("Clone failures retried in design mode."),
	); err != nil {
		return nil, err
	}
	if met.ProfilesCreated, err = m.Int64Counter("minestream.profiles.created",
		metric.WithDescription("Voice profiles created by kind."),
	); err != nil {
		return nil, err
	}
	if met.UploadTranscodeFallbacks, err = m.Int64Counter("minestream.upload.transcode_fallbacks",
		metric.WithDescription("Uploads stored unmodified because transcoding failed."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesWritten, err = m.Int64Counter("minestream.audio.bytes_written",
		metric.WithDescription("Audio bytes persisted by area."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("minestream.backend.breaker_transitions",
		metric.WithDescription("Circuit breaker state changes by endpoint and new state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("minestream.queue.depth",
		metric.WithDescription("Generate requests waiting for the model backend."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("minestream.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordBackendCall records the request counter and latency histogram for a
// single backend call with the standard attribute set.
func (m *Metrics) RecordBackendCall(ctx context.Context, mode, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	)
	m.BackendRequests.Add(ctx, 1, attrs)
	m.BackendDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordSynthesis records the end-to-end latency of a generate request.
func (m *Metrics) RecordSynthesis(ctx context.Context, strategy, status string, d time.Duration) {
	m.SynthesisDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("strategy", strategy),
			attribute.String("status", status),
		),
	)
}

// RecordProfileCreated is a convenience method that records a profile
// creation counter increment.
func (m *Metrics) RecordProfileCreated(ctx context.Context, kind string) {
	m.ProfilesCreated.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordBytesWritten is a convenience method that records persisted bytes.
func (m *Metrics) RecordBytesWritten(ctx context.Context, area string, n int) {
	m.AudioBytesWritten.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("area", area)),
	)
}

// RecordBreakerTransition records a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, endpoint, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("state", state),
		),
	)
}

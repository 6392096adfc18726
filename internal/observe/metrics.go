// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ResolveDuration tracks end-to-end utterance resolution latency.
	ResolveDuration metric.Float64Histogram

	// NormalizeDuration tracks transcription cleanup latency.
	NormalizeDuration metric.Float64Histogram

	// MatchDuration tracks per-method matching latency. Use with attribute:
	//   attribute.String("method", ...)
	MatchDuration metric.Float64Histogram

	// EmbeddingDuration tracks embeddings provider latency.
	EmbeddingDuration metric.Float64Histogram

	// DispatchDuration tracks executor latency for accepted commands.
	DispatchDuration metric.Float64Histogram

	// --- Counters ---

	// Resolutions counts resolved utterances. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("method", ...)
	Resolutions metric.Int64Counter

	// ResolutionFailures counts utterances that produced no executable
	// resolution. Use with attribute:
	//   attribute.String("reason", ...)
	ResolutionFailures metric.Int64Counter

	// Corrections counts recorded user corrections.
	Corrections metric.Int64Counter

	// IndexRebuilds counts command index swaps (startup, reload, macros).
	IndexRebuilds metric.Int64Counter

	// --- Error counters ---

	// EmbeddingErrors counts embeddings provider failures. Use with
	// attribute: attribute.String("provider", ...)
	EmbeddingErrors metric.Int64Counter

	// --- Gauges ---

	// IndexedCommands tracks the number of commands in the active index.
	IndexedCommands metric.Int64UpDownCounter

	// PendingConfirmations tracks confirm-tier resolutions awaiting an answer.
	PendingConfirmations metric.Int64UpDownCounter

	// QueuedDispatches tracks jobs waiting in the execution queue.
	QueuedDispatches metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for sub-second resolution latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ResolveDuration, err = m.Float64Histogram("earshot.resolve.duration",
		metric.WithDescription("End-to-end latency of utterance resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.NormalizeDuration, err = m.Float64Histogram("earshot.normalize.duration",
		metric.WithDescription("Latency of transcription cleanup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchDuration, err = m.Float64Histogram("earshot.match.duration",
		metric.WithDescription("Latency of a single matching method."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("earshot.embedding.duration",
		metric.WithDescription("Latency of embeddings provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DispatchDuration, err = m.Float64Histogram("earshot.dispatch.duration",
		metric.WithDescription("Latency of executor runs for accepted commands."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Resolutions, err = m.Int64Counter("earshot.resolutions",
		metric.WithDescription("Total resolved utterances by tier and winning method."),
	); err != nil {
		return nil, err
	}
	if met.ResolutionFailures, err = m.Int64Counter("earshot.resolution.failures",
		metric.WithDescription("Total utterances without an executable resolution, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("earshot.corrections",
		metric.WithDescription("Total user corrections recorded."),
	); err != nil {
		return nil, err
	}
	if met.IndexRebuilds, err = m.Int64Counter("earshot.index.rebuilds",
		metric.WithDescription("Total command index rebuilds."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EmbeddingErrors, err = m.Int64Counter("earshot.embedding.errors",
		metric.WithDescription("Total embeddings provider failures by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.IndexedCommands, err = m.Int64UpDownCounter("earshot.indexed_commands",
		metric.WithDescription("Number of commands in the active index."),
	); err != nil {
		return nil, err
	}
	if met.PendingConfirmations, err = m.Int64UpDownCounter("earshot.pending_confirmations",
		metric.WithDescription("Number of confirm-tier resolutions awaiting an answer."),
	); err != nil {
		return nil, err
	}
	if met.QueuedDispatches, err = m.Int64UpDownCounter("earshot.queued_dispatches",
		metric.WithDescription("Number of jobs waiting in the execution queue."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
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

// RecordResolution is a convenience method that records a resolution counter
// increment with the standard attribute set.
func (m *Metrics) RecordResolution(ctx context.Context, tier, method string) {
	m.Resolutions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("method", method),
		),
	)
}

// RecordResolutionFailure is a convenience method that records a resolution
// failure counter increment.
func (m *Metrics) RecordResolutionFailure(ctx context.Context, reason string) {
	m.ResolutionFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordMatchDuration is a convenience method that records one matching
// method's latency.
func (m *Metrics) RecordMatchDuration(ctx context.Context, method string, seconds float64) {
	m.MatchDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("method", method)),
	)
}

// RecordEmbeddingError is a convenience method that records an embeddings
// provider failure.
func (m *Metrics) RecordEmbeddingError(ctx context.Context, provider string) {
	m.EmbeddingErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

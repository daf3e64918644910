// Package observe provides application-wide observability primitives for
// scryer: OpenTelemetry metrics, tracing, and HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be scraped
// via the standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all scryer metrics.
const meterName = "github.com/MrWong99/scryer"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Recording ---

	// ActiveRecordings tracks the number of running capture pipelines.
	ActiveRecordings metric.Int64UpDownCounter

	// RecordingStops counts finished pipelines. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	RecordingStops metric.Int64Counter

	// RecordingStopDuration tracks how long a single pipeline stop takes,
	// grace period included.
	RecordingStopDuration metric.Float64Histogram

	// ActiveSessions tracks whether a recording session is live (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// --- Post-processing ---

	// TranscriptionDuration tracks per-file speech-to-text latency.
	TranscriptionDuration metric.Float64Histogram

	// SummaryDuration tracks end-to-end summarisation latency of a session.
	SummaryDuration metric.Float64Histogram

	// LLMDuration tracks individual LLM completion latency.
	LLMDuration metric.Float64Histogram

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// stopBuckets are tuned around the 500 ms grace period plus encoder flush.
var stopBuckets = []float64{0.25, 0.5, 0.6, 0.75, 1, 1.5, 2, 5, 10}

// processingBuckets cover transcription and summarisation of long sessions.
var processingBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveRecordings, err = m.Int64UpDownCounter("scryer.recordings.active",
		metric.WithDescription("Number of running per-user capture pipelines."),
	); err != nil {
		return nil, err
	}
	if met.RecordingStops, err = m.Int64Counter("scryer.recording.stops",
		metric.WithDescription("Total finished capture pipelines by status."),
	); err != nil {
		return nil, err
	}
	if met.RecordingStopDuration, err = m.Float64Histogram("scryer.recording.stop.duration",
		metric.WithDescription("Latency of stopping one capture pipeline."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stopBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("scryer.sessions.active",
		metric.WithDescription("Number of live recording sessions."),
	); err != nil {
		return nil, err
	}

	if met.TranscriptionDuration, err = m.Float64Histogram("scryer.transcription.duration",
		metric.WithDescription("Latency of transcribing one recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(processingBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SummaryDuration, err = m.Float64Histogram("scryer.summary.duration",
		metric.WithDescription("Latency of summarising a session transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(processingBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("scryer.llm.duration",
		metric.WithDescription("Latency of a single LLM completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(processingBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("scryer.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("scryer.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("scryer.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordingStarted increments the active recording gauge.
func (m *Metrics) RecordingStarted(ctx context.Context) {
	m.ActiveRecordings.Add(ctx, 1)
}

// RecordingStopped decrements the active recording gauge and records the stop
// latency and outcome.
func (m *Metrics) RecordingStopped(ctx context.Context, took time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ActiveRecordings.Add(ctx, -1)
	m.RecordingStops.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.RecordingStopDuration.Record(ctx, took.Seconds())
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

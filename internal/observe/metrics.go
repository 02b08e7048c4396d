// Package observe provides application-wide observability primitives for the
// reminiscence backend: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all application metrics.
const meterName = "github.com/Zachwitte21/reminisce-poc"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// UpstreamConnectDuration tracks how long it takes to establish an
	// upstream live-model session. Use with attributes:
	//   attribute.String("model", ...), attribute.String("status", ...)
	UpstreamConnectDuration metric.Float64Histogram

	// SessionDuration tracks the total length of completed voice sessions.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// AudioChunks counts audio chunks relayed. Use with attribute:
	//   attribute.String("direction", "to_client"|"to_model")
	AudioChunks metric.Int64Counter

	// AudioChunksDropped counts outbound chunks discarded because the client
	// could not keep up.
	AudioChunksDropped metric.Int64Counter

	// TranscriptSaves counts transcript persistence attempts. Use with
	// attribute: attribute.String("status", "ok"|"error")
	TranscriptSaves metric.Int64Counter

	// --- Error counters ---

	// UpstreamErrors counts upstream provider errors. Use with attribute:
	//   attribute.String("kind", ...)
	UpstreamErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// connectBuckets defines histogram bucket boundaries (in seconds) for the
// upstream connect path, which includes model fallback walks.
var connectBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 60,
}

// sessionBuckets covers conversation lengths from seconds to an hour.
var sessionBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.UpstreamConnectDuration, err = m.Float64Histogram("reminisce.upstream.connect.duration",
		metric.WithDescription("Latency of establishing an upstream live-model session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("reminisce.session.duration",
		metric.WithDescription("Total length of completed voice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioChunks, err = m.Int64Counter("reminisce.audio.chunks",
		metric.WithDescription("Total audio chunks relayed by direction."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksDropped, err = m.Int64Counter("reminisce.audio.chunks_dropped",
		metric.WithDescription("Outbound audio chunks dropped due to client backpressure."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptSaves, err = m.Int64Counter("reminisce.transcript.saves",
		metric.WithDescription("Transcript persistence attempts by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.UpstreamErrors, err = m.Int64Counter("reminisce.upstream.errors",
		metric.WithDescription("Total upstream provider errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("reminisce.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("reminisce.http.request.duration",
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

// RecordAudioChunk records one relayed audio chunk for the given direction.
func (m *Metrics) RecordAudioChunk(ctx context.Context, direction string) {
	m.AudioChunks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordTranscriptSave records a transcript persistence attempt.
func (m *Metrics) RecordTranscriptSave(ctx context.Context, status string) {
	m.TranscriptSaves.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordUpstreamError records an upstream provider error of the given kind.
func (m *Metrics) RecordUpstreamError(ctx context.Context, kind string) {
	m.UpstreamErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

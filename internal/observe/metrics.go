// Package observe provides application-wide observability primitives for
// Aula: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Aula metrics.
const meterName = "github.com/aulalabs/aula"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RouteDuration tracks intent-routing latency, embedding call included.
	RouteDuration metric.Float64Histogram

	// RetrievalDuration tracks vector search plus reranking latency.
	RetrievalDuration metric.Float64Histogram

	// LLMDuration tracks completion latency.
	LLMDuration metric.Float64Histogram

	// AnswerDuration tracks end-to-end Ask latency.
	AnswerDuration metric.Float64Histogram

	// TTSFirstChunk tracks time from synthesis start to first audio chunk.
	TTSFirstChunk metric.Float64Histogram

	// JobDuration tracks ingestion task execution time.
	JobDuration metric.Float64Histogram

	// --- Counters ---

	// RouteDecisions counts routing outcomes. Use with attribute:
	//   attribute.String("route", ...)
	RouteDecisions metric.Int64Counter

	// AnswerOutcomes counts chat pipeline outcomes. Use with attribute:
	//   attribute.String("outcome", ...)
	AnswerOutcomes metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// BargeIns counts user interruptions of tutor speech.
	BargeIns metric.Int64Counter

	// ChunksIngested counts course content chunks written to the vector
	// store. Use with attribute: attribute.String("course_id", ...)
	ChunksIngested metric.Int64Counter

	// JobsProcessed counts completed queue tasks. Use with attributes:
	//   attribute.String("type", ...), attribute.String("status", ...)
	JobsProcessed metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveVoiceSessions tracks the number of live voice connections.
	ActiveVoiceSessions metric.Int64UpDownCounter

	// QueueDepth tracks the number of tasks waiting in the job queue.
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive chat and voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RouteDuration, err = m.Float64Histogram("aula.route.duration",
		metric.WithDescription("Latency of intent routing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("aula.retrieval.duration",
		metric.WithDescription("Latency of vector search and reranking."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("aula.llm.duration",
		metric.WithDescription("Latency of LLM completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnswerDuration, err = m.Float64Histogram("aula.answer.duration",
		metric.WithDescription("End-to-end answer pipeline latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSFirstChunk, err = m.Float64Histogram("aula.tts.first_chunk",
		metric.WithDescription("Time from synthesis start to first audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("aula.job.duration",
		metric.WithDescription("Ingestion task execution time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RouteDecisions, err = m.Int64Counter("aula.route.decisions",
		metric.WithDescription("Total routing outcomes by route."),
	); err != nil {
		return nil, err
	}
	if met.AnswerOutcomes, err = m.Int64Counter("aula.answer.outcomes",
		metric.WithDescription("Total chat pipeline outcomes by kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("aula.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("aula.voice.barge_ins",
		metric.WithDescription("Total user interruptions of tutor speech."),
	); err != nil {
		return nil, err
	}
	if met.ChunksIngested, err = m.Int64Counter("aula.ingest.chunks",
		metric.WithDescription("Total content chunks written to the vector store."),
	); err != nil {
		return nil, err
	}
	if met.JobsProcessed, err = m.Int64Counter("aula.jobs.processed",
		metric.WithDescription("Total queue tasks completed by type and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("aula.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveVoiceSessions, err = m.Int64UpDownCounter("aula.voice.active_sessions",
		metric.WithDescription("Number of live voice connections."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("aula.jobs.queue_depth",
		metric.WithDescription("Number of tasks waiting in the job queue."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("aula.http.request.duration",
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

// RecordRoute records a routing outcome.
func (m *Metrics) RecordRoute(ctx context.Context, route string) {
	m.RouteDecisions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("route", route)),
	)
}

// RecordAnswerOutcome records a chat pipeline outcome.
func (m *Metrics) RecordAnswerOutcome(ctx context.Context, outcome string) {
	m.AnswerOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
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

// RecordJob records a completed queue task.
func (m *Metrics) RecordJob(ctx context.Context, taskType, status string, seconds float64) {
	m.JobsProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", taskType),
			attribute.String("status", status),
		),
	)
	m.JobDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("type", taskType)),
	)
}

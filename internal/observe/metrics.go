// Package observe provides application-wide observability primitives for
// Zhu Li: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Zhu Li metrics.
const meterName = "github.com/MrWong99/zhuli"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks the time from handing an utterance to the speech
	// engine until its transcript is available.
	STTDuration metric.Float64Histogram

	// UtteranceDuration tracks the length of captured utterances in seconds
	// of audio.
	UtteranceDuration metric.Float64Histogram

	// MatchScore tracks the best Jaro-Winkler score of every matched
	// transcript. Use with attribute:
	//   attribute.String("outcome", "matched"|"unmatched")
	MatchScore metric.Float64Histogram

	// --- Counters ---

	// Utterances counts utterances produced by the segmenter.
	Utterances metric.Int64Counter

	// Transcripts counts transcription attempts. Use with attribute:
	//   attribute.String("outcome", "text"|"noise"|"error")
	Transcripts metric.Int64Counter

	// Matches counts matcher decisions. Use with attributes:
	//   attribute.String("outcome", ...), attribute.String("key", ...)
	Matches metric.Int64Counter

	// Publishes counts bus publishes. Use with attributes:
	//   attribute.String("kind", "matched"|"fail"), attribute.String("status", ...)
	Publishes metric.Int64Counter

	// PipelineErrors counts transient pipeline failures that trigger a
	// restart. Use with attribute:
	//   attribute.String("stage", ...)
	PipelineErrors metric.Int64Counter

	// Restarts counts pipeline rebuilds after a failure.
	Restarts metric.Int64Counter

	// BreakerTransitions counts circuit-breaker state changes. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription latency.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// utteranceBuckets covers spoken commands from a syllable up to a rambling
// sentence.
var utteranceBuckets = []float64{
	0.25, 0.5, 1, 1.5, 2, 3, 5, 8, 13, 20,
}

var scoreBuckets = []float64{
	0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("zhuli.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("zhuli.utterance.duration",
		metric.WithDescription("Length of captured utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MatchScore, err = m.Float64Histogram("zhuli.match.score",
		metric.WithDescription("Best Jaro-Winkler similarity per transcript."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("zhuli.utterances",
		metric.WithDescription("Total utterances captured by the segmenter."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("zhuli.transcripts",
		metric.WithDescription("Total transcription attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Matches, err = m.Int64Counter("zhuli.matches",
		metric.WithDescription("Total matcher decisions by outcome and command key."),
	); err != nil {
		return nil, err
	}
	if met.Publishes, err = m.Int64Counter("zhuli.publishes",
		metric.WithDescription("Total bus publishes by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.PipelineErrors, err = m.Int64Counter("zhuli.pipeline.errors",
		metric.WithDescription("Total transient pipeline errors by stage."),
	); err != nil {
		return nil, err
	}
	if met.Restarts, err = m.Int64Counter("zhuli.pipeline.restarts",
		metric.WithDescription("Total pipeline rebuilds after an error."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("zhuli.breaker.transitions",
		metric.WithDescription("Total circuit-breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("zhuli.http.request.duration",
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

// RecordTranscript records a transcription attempt with the given outcome.
func (m *Metrics) RecordTranscript(ctx context.Context, outcome string) {
	m.Transcripts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordMatch records a matcher decision and its best score.
func (m *Metrics) RecordMatch(ctx context.Context, outcome, key string, score float64) {
	m.Matches.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("key", key),
		),
	)
	m.MatchScore.Record(ctx, score, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPublish records a bus publish of the given kind.
func (m *Metrics) RecordPublish(ctx context.Context, kind, status string) {
	m.Publishes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordPipelineError records a transient failure in the named stage.
func (m *Metrics) RecordPipelineError(ctx context.Context, stage string) {
	m.PipelineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordBreakerTransition records a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}

// Package observe instruments whisperstream with OpenTelemetry.
//
// [Metrics] groups the segmenter, engine and HTTP instruments; [InitProvider]
// installs the SDK with a Prometheus exporter behind /metrics. Spans carry
// the session ID placed in the context by [WithSessionID], and [Logger]
// stamps log lines with it together with the trace and span IDs.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every instrument.
const meterName = "github.com/MrWong99/whisperstream"

// Metrics holds the application's instruments. Instruments are safe for
// concurrent use.
type Metrics struct {
	// TranscriptionDuration tracks engine latency per emitted span. Use with
	// attribute.String("engine", ...).
	TranscriptionDuration metric.Float64Histogram

	// SpanAudioDuration tracks the length of the audio in each emitted span.
	SpanAudioDuration metric.Float64Histogram

	// Emissions counts emitted spans. Use with attribute.String("reason", ...)
	// (vad, flush, forced, step).
	Emissions metric.Int64Counter

	// TranscriptionErrors counts failed transcriptions. Use with
	// attribute.String("engine", ...).
	TranscriptionErrors metric.Int64Counter

	// SilenceCleanups counts discarded stretches of idle silence.
	SilenceCleanups metric.Int64Counter

	// IngestedSamples counts audio samples fed to segmenters.
	IngestedSamples metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attribute.String("engine", ...) and attribute.String("state", ...).
	BreakerTransitions metric.Int64Counter

	// ActiveSessions tracks the number of live streaming sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is recorded by [Middleware] with method, route
	// pattern and status attributes.
	HTTPRequestDuration metric.Float64Histogram
}

// Bucket boundaries in seconds. Engine latency ranges from tens of
// milliseconds on short spans to a minute on forced spans; span lengths go up
// to the ten minute forced-emit ceiling.
var (
	latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	spanBuckets    = []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 600}
)

// NewMetrics creates every instrument on a meter of mp. Instrument creation
// errors are joined.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{meter: mp.Meter(meterName)}
	met := &Metrics{
		TranscriptionDuration: b.histogram("whisperstream.transcription.duration",
			"Latency of transcribing one emitted span.", latencyBuckets),
		SpanAudioDuration: b.histogram("whisperstream.span.audio_duration",
			"Length of the audio submitted per emitted span.", spanBuckets),
		HTTPRequestDuration: b.histogram("whisperstream.http.request.duration",
			"HTTP request latency by method, route and status.", nil),

		Emissions: b.counter("whisperstream.segment.emissions",
			"Emitted spans by reason.", "{span}"),
		TranscriptionErrors: b.counter("whisperstream.transcription.errors",
			"Failed transcriptions by engine.", "{error}"),
		SilenceCleanups: b.counter("whisperstream.segment.silence_cleanups",
			"Discarded stretches of idle silence.", "{cleanup}"),
		IngestedSamples: b.counter("whisperstream.segment.ingested_samples",
			"Audio samples fed to segmenters.", "{sample}"),
		BreakerTransitions: b.counter("whisperstream.engine.breaker_transitions",
			"Circuit breaker state changes by engine and new state.", "{transition}"),
	}
	var err error
	met.ActiveSessions, err = b.meter.Int64UpDownCounter("whisperstream.active_sessions",
		metric.WithDescription("Live streaming sessions."),
		metric.WithUnit("{session}"),
	)
	if err := errors.Join(append(b.errs, err)...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return met, nil
}

type builder struct {
	meter metric.Meter
	errs  []error
}

func (b *builder) histogram(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.errs = append(b.errs, err)
	return h
}

func (b *builder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.errs = append(b.errs, err)
	return c
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic(err)
	}
	return m
})

// DefaultMetrics returns a process-wide [Metrics] bound to the global meter
// provider at the time of the first call. Tests should build their own with
// [NewMetrics].
func DefaultMetrics() *Metrics { return defaultMetrics() }

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordEmission records one emitted span with its reason and audio length.
func (m *Metrics) RecordEmission(ctx context.Context, reason string, audioSeconds float64) {
	m.Emissions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.SpanAudioDuration.Record(ctx, audioSeconds)
}

// RecordTranscription records the latency and outcome of one engine call.
func (m *Metrics) RecordTranscription(ctx context.Context, engine string, seconds float64, err error) {
	attrs := metric.WithAttributes(attribute.String("engine", engine))
	m.TranscriptionDuration.Record(ctx, seconds, attrs)
	if err != nil {
		m.TranscriptionErrors.Add(ctx, 1, attrs)
	}
}

// RecordCleanup records one silence cleanup.
func (m *Metrics) RecordCleanup(ctx context.Context) {
	m.SilenceCleanups.Add(ctx, 1)
}

// RecordIngest records n ingested samples.
func (m *Metrics) RecordIngest(ctx context.Context, n int) {
	m.IngestedSamples.Add(ctx, int64(n))
}

// RecordBreakerTransition records an engine's circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, engine, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("state", state),
	))
}

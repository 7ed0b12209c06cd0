package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/whisperstream/pkg/provider/stt"
)

// instrumented wraps a transcriber with a span and latency metrics.
type instrumented struct {
	next    stt.Transcriber
	engine  string
	metrics *Metrics
}

// InstrumentTranscriber returns a transcriber that records a span, the call
// latency and failures for every Transcribe call on next. engine labels the
// recorded metrics.
func InstrumentTranscriber(next stt.Transcriber, engine string, m *Metrics) stt.Transcriber {
	return &instrumented{next: next, engine: engine, metrics: m}
}

// Transcribe implements stt.Transcriber.
func (t *instrumented) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error) {
	ctx, span := StartSpan(ctx, "stt.transcribe")
	defer span.End()
	span.SetAttributes(
		attribute.String("engine", t.engine),
		attribute.Int("samples", len(samples)),
		attribute.String("language", opts.Language),
	)
	if id := SessionID(ctx); id != "" {
		span.SetAttributes(attribute.String("session_id", id))
	}

	start := time.Now()
	res, err := t.next.Transcribe(ctx, samples, opts)
	t.metrics.RecordTranscription(ctx, t.engine, time.Since(start).Seconds(), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.Int("segments", len(res.Segments)))
	return res, nil
}

// Close closes the wrapped transcriber when it implements stt.Closer.
func (t *instrumented) Close() error {
	if c, ok := t.next.(stt.Closer); ok {
		return c.Close()
	}
	return nil
}

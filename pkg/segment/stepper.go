package segment

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/MrWong99/whisperstream/pkg/audio"
	"github.com/MrWong99/whisperstream/pkg/provider/stt"
)

// Stepper is the fixed-step mode: every chunk is transcribed immediately,
// prefixed with up to KeepMs of audio retained from the previous step. It
// runs no voice activity detection.
type Stepper struct {
	cfg  Config
	tr   stt.Transcriber
	log  *slog.Logger
	opts stt.Options

	old         []float32
	keepSamples int
	closed      atomic.Bool
}

// NewStepper creates a Stepper. Detector options are ignored.
func NewStepper(cfg Config, tr stt.Transcriber, opts ...Option) (*Stepper, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Stepper{
		cfg:         cfg,
		tr:          tr,
		log:         o.log,
		opts:        cfg.transcribeOptions(),
		keepSamples: audio.SamplesForMs(cfg.KeepMs, cfg.SampleRate),
	}, nil
}

// Config returns the effective configuration.
func (s *Stepper) Config() Config { return s.cfg }

// Close releases the retained audio. Further Ingest calls return
// ErrNotInitialized.
func (s *Stepper) Close() error {
	s.closed.Store(true)
	s.old = nil
	return nil
}

// Ingest transcribes chunk together with the retained overlap. IngestOptions
// are ignored; every call emits. Empty chunks are skipped.
//
// Retention: when chunk is longer than KeepMs its last KeepMs samples are
// kept, otherwise the whole assembled span is kept (and trimmed to KeepMs
// when it is prepended next time).
func (s *Stepper) Ingest(ctx context.Context, chunk []float32, _ IngestOptions) (Result, error) {
	if s.closed.Load() || s.tr == nil {
		return Result{}, ErrNotInitialized
	}
	if len(chunk) == 0 {
		return Result{}, nil
	}

	prefix := tail(s.old, s.keepSamples)
	span := make([]float32, 0, len(prefix)+len(chunk))
	span = append(span, prefix...)
	span = append(span, chunk...)

	// span is returned to the caller, so retained audio never aliases it.
	if len(chunk) > s.keepSamples {
		s.old = slices.Clone(tail(chunk, s.keepSamples))
	} else {
		s.old = slices.Clone(span)
	}

	res := Result{Emitted: true, Reason: ReasonStep, Span: span}
	tres, err := s.tr.Transcribe(ctx, span, s.opts)
	if err != nil {
		s.log.Warn("segment: step transcription failed",
			"span_ms", audio.DurationMs(len(span), s.cfg.SampleRate),
			"err", err,
		)
		return res, fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	res.Segments = tres.Segments
	res.Text = tres.Text()
	return res, nil
}

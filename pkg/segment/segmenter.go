// Package segment turns a continuous stream of audio samples into discrete
// "transcribe this span now" decisions.
//
// A Segmenter accumulates chunks in a voice buffer, classifies the trailing
// window of that buffer with a vad.Detector and emits the buffer (preceded
// by a short trailing context from the previous emission) to an
// stt.Transcriber when:
//
//   - speech was detected and the trailing window has now fallen silent,
//   - the caller requests a flush, or
//   - the voice buffer exceeds the hard talking cap (a forced emission).
//
// Long stretches of pure silence are dropped instead of being sent
// downstream. A Stepper offers the simpler fixed-step mode: every chunk is
// transcribed immediately with a little overlap from the previous one.
//
// Neither type is safe for concurrent use. Callers receiving audio on an I/O
// goroutine must serialise Ingest calls, for example through a
// single-consumer queue (see internal/session).
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/whisperstream/pkg/audio"
	"github.com/MrWong99/whisperstream/pkg/provider/stt"
	"github.com/MrWong99/whisperstream/pkg/provider/vad"
	"github.com/MrWong99/whisperstream/pkg/provider/vad/energy"
)

// Reason names what triggered an emission.
type Reason string

const (
	// ReasonNone means nothing was emitted.
	ReasonNone Reason = ""
	// ReasonVAD is an utterance end: speech followed by silence.
	ReasonVAD Reason = "vad"
	// ReasonFlush is a caller-requested flush.
	ReasonFlush Reason = "flush"
	// ReasonForced is a voice buffer overflow.
	ReasonForced Reason = "forced"
	// ReasonStep is a fixed-step emission from a Stepper.
	ReasonStep Reason = "step"
)

// IngestOptions are the per-chunk parameters of Segmenter.Ingest.
type IngestOptions struct {
	// Flush requests an emission of the accumulated audio now.
	Flush bool

	// MinSilenceWindowMs is the trailing window the detector classifies.
	MinSilenceWindowMs int

	// MaxSilenceMs is how long the segmenter may sit idle and silent before
	// discarding the accumulated silence.
	MaxSilenceMs int
}

// State is the observable hysteresis state of a Segmenter.
type State struct {
	// Speaking is true between detected speech and the next emission.
	Speaking bool

	// LastVoice is refreshed when an utterance ends and after a silence
	// cleanup. It starts at construction time.
	LastVoice time.Time
}

// Result describes the outcome of one Ingest call.
type Result struct {
	// Emitted reports whether a span was handed to the transcriber.
	Emitted bool

	// Reason is what triggered the emission.
	Reason Reason

	// Forced reports whether the voice buffer overflowed.
	Forced bool

	// Cleanup reports whether accumulated silence was discarded.
	Cleanup bool

	// Span is the submitted audio: trailing context followed by voice.
	Span []float32

	// Segments are the transcriber's segments, in order.
	Segments []stt.Segment

	// Text is the concatenated segment text. Empty when nothing was emitted,
	// the transcription failed, or nothing was recognised.
	Text string
}

// HasText reports whether r carries a non-empty transcription.
func (r Result) HasText() bool { return r.Text != "" }

// Ingester is implemented by Segmenter and Stepper.
type Ingester interface {
	Ingest(ctx context.Context, chunk []float32, opts IngestOptions) (Result, error)
	Close() error
}

var (
	_ Ingester = (*Segmenter)(nil)
	_ Ingester = (*Stepper)(nil)
)

// Option is a functional option for New and NewStepper.
type Option func(*options)

type options struct {
	detector   vad.Detector
	noiseFloor *energy.NoiseFloor
	now        func() time.Time
	log        *slog.Logger
}

// WithDetector replaces the default energy detector.
func WithDetector(d vad.Detector) Option {
	return func(o *options) { o.detector = d }
}

// WithNoiseFloor makes the default energy detector adapt nf instead of a
// private floor. Ignored when WithDetector is also given.
func WithNoiseFloor(nf *energy.NoiseFloor) Option {
	return func(o *options) { o.noiseFloor = nf }
}

// WithClock sets the time source used for silence timing.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, log: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Segmenter is the voice-activity driven segmentation state machine.
type Segmenter struct {
	cfg  Config
	tr   stt.Transcriber
	det  vad.Detector
	now  func() time.Time
	log  *slog.Logger
	opts stt.Options

	buf       buffers
	speaking  bool
	lastVoice time.Time
	closed    atomic.Bool

	keepSamples      int
	forcedKeep       int
	maxTalkingSample int
}

// New creates a Segmenter in the idle state. tr may be nil only to build a
// segmenter that is initialised later; Ingest then fails with
// ErrNotInitialized.
func New(cfg Config, tr stt.Transcriber, opts ...Option) (*Segmenter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	det := o.detector
	if det == nil {
		var eopts []energy.Option
		if o.noiseFloor != nil {
			eopts = append(eopts, energy.WithNoiseFloor(o.noiseFloor))
		}
		eopts = append(eopts, energy.WithLogger(o.log))
		d, err := energy.New(vad.Config{
			SampleRate:    cfg.SampleRate,
			Threshold:     cfg.VADThreshold,
			FreqThreshold: cfg.FreqThreshold,
			Verbose:       cfg.Verbose,
		}, eopts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
		det = d
	}

	return &Segmenter{
		cfg:              cfg,
		tr:               tr,
		det:              det,
		now:              o.now,
		log:              o.log,
		opts:             cfg.transcribeOptions(),
		lastVoice:        o.now(),
		keepSamples:      audio.SamplesForMs(cfg.KeepMs, cfg.SampleRate),
		forcedKeep:       audio.SamplesForMs(max(cfg.ForcedKeepFloorMs, cfg.KeepMs), cfg.SampleRate),
		maxTalkingSample: audio.SamplesForMs(cfg.MaxTalkingMs, cfg.SampleRate),
	}, nil
}

// Init attaches the transcriber of a segmenter created without one.
func (s *Segmenter) Init(tr stt.Transcriber) {
	s.tr = tr
}

// Config returns the effective configuration.
func (s *Segmenter) Config() Config { return s.cfg }

// State returns the current hysteresis state.
func (s *Segmenter) State() State {
	return State{Speaking: s.speaking, LastVoice: s.lastVoice}
}

// ContextLen returns the number of samples in the trailing context buffer.
func (s *Segmenter) ContextLen() int { return len(s.buf.context) }

// VoiceLen returns the number of samples in the voice buffer.
func (s *Segmenter) VoiceLen() int { return len(s.buf.voice) }

// Close releases the buffers. Further Ingest calls return ErrNotInitialized.
// The transcriber is shared and is not closed.
func (s *Segmenter) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.buf.release()
	return nil
}

// Ingest appends chunk and decides whether to emit. It blocks for the
// duration of the transcription when one is triggered; an in-flight
// transcription is not cancelled by the segmenter.
//
// On a transcription failure the returned error wraps ErrTranscription and
// the engine error, the Result still describes the emitted span, and the
// buffers have been reset so the span is not resubmitted.
func (s *Segmenter) Ingest(ctx context.Context, chunk []float32, opts IngestOptions) (Result, error) {
	if s.closed.Load() || s.tr == nil {
		return Result{}, ErrNotInitialized
	}

	s.buf.appendVoice(chunk)
	silent := s.det.Classify(s.buf.analysis(), opts.MinSilenceWindowMs)
	now := s.now()

	var res Result
	utteranceEnd := false
	switch {
	case !silent:
		s.speaking = true
	case s.speaking:
		s.lastVoice = now
		utteranceEnd = true
	case now.Sub(s.lastVoice) > time.Duration(opts.MaxSilenceMs)*time.Millisecond:
		s.buf.retire(audio.SamplesForMs(opts.MinSilenceWindowMs, s.cfg.SampleRate))
		s.lastVoice = now
		res.Cleanup = true
	}

	forced := len(s.buf.voice) > s.maxTalkingSample
	emit := (opts.Flush || utteranceEnd || forced) && len(s.buf.voice) > 0

	if s.cfg.Verbose {
		s.log.Debug("segment ingest",
			"chunk", len(chunk),
			"voice", len(s.buf.voice),
			"context", len(s.buf.context),
			"silent", silent,
			"speaking", s.speaking,
			"utterance_end", utteranceEnd,
			"cleanup", res.Cleanup,
			"flush", opts.Flush,
			"forced", forced,
		)
	}

	if !emit {
		if !res.Cleanup {
			s.buf.keepVoiceTail(s.keepSamples)
		}
		return res, nil
	}

	res.Emitted = true
	res.Forced = forced
	switch {
	case forced:
		res.Reason = ReasonForced
	case utteranceEnd:
		res.Reason = ReasonVAD
	default:
		res.Reason = ReasonFlush
	}
	res.Span = s.buf.span()

	tres, err := s.tr.Transcribe(ctx, res.Span, s.opts)

	keep := s.keepSamples
	if forced {
		keep = s.forcedKeep
	}
	s.buf.retire(keep)
	s.speaking = false
	if s.cfg.ResetNoiseFloorOnEmit {
		s.det.Reset()
	}

	if err != nil {
		s.log.Warn("segment: transcription failed",
			"reason", res.Reason,
			"span_ms", audio.DurationMs(len(res.Span), s.cfg.SampleRate),
			"err", err,
		)
		return res, fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	res.Segments = tres.Segments
	res.Text = tres.Text()
	if s.cfg.Verbose {
		s.log.Debug("segment emitted",
			"reason", res.Reason,
			"span_ms", audio.DurationMs(len(res.Span), s.cfg.SampleRate),
			"text", res.Text,
		)
	}
	return res, nil
}

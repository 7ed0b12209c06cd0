// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber wraps an inference engine (a local whisper.cpp model, a remote
// whisper-server, or a hosted API) behind one synchronous call: given a span of
// mono float32 PCM samples and recognition options, it returns the recognised
// text segments or fails. Deciding which span to hand over is the job of
// package segment; a Transcriber never buffers audio across calls.
//
// Implementations must be safe for concurrent use. Multiple sessions may call
// Transcribe at the same time; implementations that cannot run inferences in
// parallel serialise internally.
package stt

import (
	"context"
	"errors"
)

// ErrNotSupported is returned when a backend cannot honour a requested option
// (for example a translation target it does not offer).
var ErrNotSupported = errors.New("stt: operation not supported")

// Options are the recognition parameters for one Transcribe call.
type Options struct {
	// Language is the ISO-639-1 language code (e.g., "en", "de"). An empty
	// string or "auto" lets the backend auto-detect the language, if supported.
	Language string

	// Threads is the number of inference threads the backend may use. Zero
	// selects the backend default. Remote backends ignore it.
	Threads int

	// Translate asks the backend to translate the speech to English.
	Translate bool

	// EmitTimestamps requests per-segment start/end offsets in the result.
	EmitTimestamps bool

	// SingleSegment forces the backend to return the span as one segment.
	SingleSegment bool

	// NoContext disables the backend's own decoding history so that every call
	// is transcribed independently of previous ones.
	NoContext bool

	// MaxTokens caps the number of tokens per segment. Zero means unlimited.
	MaxTokens int

	// AudioCtx overrides the encoder audio context size. Zero keeps the model
	// default.
	AudioCtx int
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe runs recognition over samples (mono float32 PCM at the
	// backend's expected rate, 16 kHz for whisper models) and returns the
	// ordered text segments.
	//
	// Transcribe blocks until inference completes. Cancelling ctx aborts
	// remote requests; local inference runs to completion once started.
	Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error)
}

// Closer is implemented by transcribers that hold engine resources (model
// weights, connection pools) that must be released explicitly.
type Closer interface {
	Close() error
}

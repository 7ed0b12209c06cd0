package segment

import "errors"

var (
	// ErrNotInitialized is returned when Ingest is called without a
	// transcriber or after Close. It indicates a caller bug.
	ErrNotInitialized = errors.New("segment: not initialized")

	// ErrTranscription wraps a transcriber failure for an emitted span. The
	// segmenter has already reset its buffers when this is returned.
	ErrTranscription = errors.New("segment: transcription failed")

	// ErrInvalidConfiguration is returned by New and NewStepper for unusable
	// configuration values.
	ErrInvalidConfiguration = errors.New("segment: invalid configuration")
)

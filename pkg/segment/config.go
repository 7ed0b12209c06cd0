package segment

import (
	"errors"
	"fmt"

	"github.com/MrWong99/whisperstream/pkg/provider/stt"
)

// Default configuration values.
const (
	DefaultSampleRate        = 16000
	DefaultKeepMs            = 200
	DefaultVADThreshold      = 0.6
	DefaultFreqThreshold     = 100.0
	DefaultMaxTalkingMs      = 10 * 60 * 1000
	DefaultForcedKeepFloorMs = 2000
	DefaultThreads           = 4
)

// Config is fixed for the lifetime of a Segmenter or Stepper.
type Config struct {
	// SampleRate of every ingested chunk in Hz. Defaults to 16000.
	SampleRate int

	// KeepMs is the amount of audio retained from the end of an emitted span
	// and prepended to the next one. Defaults to 200.
	KeepMs int

	// VADThreshold divides the reference energy: the trailing window is
	// silence when its RMS is below max(previous RMS, noise floor) divided by
	// this value. Defaults to 0.6.
	VADThreshold float64

	// FreqThreshold is the high-pass cutoff in Hz applied before measuring
	// energy. Zero disables filtering. Defaults to 100.
	FreqThreshold float64

	// MaxTalkingMs caps the voice buffer. Once exceeded, the buffer is
	// transcribed regardless of voice activity. Defaults to ten minutes.
	MaxTalkingMs int

	// ForcedKeepFloorMs is the minimum overlap retained after a forced
	// emission; the effective overlap is max(ForcedKeepFloorMs, KeepMs).
	// Defaults to 2000.
	ForcedKeepFloorMs int

	// Language is passed to the transcriber. Empty means auto-detect.
	Language string

	// Threads is passed to the transcriber. Defaults to 4.
	Threads int

	// Translate asks the transcriber to translate to English.
	Translate bool

	// EmitTimestamps asks the transcriber for segment timestamps.
	EmitTimestamps bool

	// MaxTokens caps tokens per segment. Zero means unlimited.
	MaxTokens int

	// AudioCtx overrides the encoder context size. Zero keeps the default.
	AudioCtx int

	// ResetNoiseFloorOnEmit returns the detector's noise floor to its
	// initial value after every emission.
	ResetNoiseFloorOnEmit bool

	// Verbose logs every ingest decision at debug level.
	Verbose bool
}

// withDefaults returns a copy of c with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.KeepMs == 0 {
		c.KeepMs = DefaultKeepMs
	}
	if c.VADThreshold == 0 {
		c.VADThreshold = DefaultVADThreshold
	}
	if c.MaxTalkingMs == 0 {
		c.MaxTalkingMs = DefaultMaxTalkingMs
	}
	if c.ForcedKeepFloorMs == 0 {
		c.ForcedKeepFloorMs = DefaultForcedKeepFloorMs
	}
	if c.Threads == 0 {
		c.Threads = DefaultThreads
	}
	return c
}

// validate reports every invalid field, wrapped in ErrInvalidConfiguration.
func (c Config) validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.KeepMs < 0 {
		errs = append(errs, fmt.Errorf("keep_ms must not be negative, got %d", c.KeepMs))
	}
	if c.VADThreshold <= 0 {
		errs = append(errs, fmt.Errorf("vad threshold must be positive, got %v", c.VADThreshold))
	}
	if c.FreqThreshold < 0 {
		errs = append(errs, fmt.Errorf("freq threshold must not be negative, got %v", c.FreqThreshold))
	}
	if c.MaxTalkingMs <= 0 {
		errs = append(errs, fmt.Errorf("max talking ms must be positive, got %d", c.MaxTalkingMs))
	}
	if c.ForcedKeepFloorMs < 0 {
		errs = append(errs, fmt.Errorf("forced keep floor must not be negative, got %d", c.ForcedKeepFloorMs))
	}
	if c.Threads < 0 {
		errs = append(errs, fmt.Errorf("threads must not be negative, got %d", c.Threads))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
	}
	return nil
}

// transcribeOptions maps the config onto per-call transcriber options. Every
// span is decoded as one segment without the engine's own history.
func (c Config) transcribeOptions() stt.Options {
	return stt.Options{
		Language:       c.Language,
		Threads:        c.Threads,
		Translate:      c.Translate,
		EmitTimestamps: c.EmitTimestamps,
		SingleSegment:  true,
		NoContext:      true,
		MaxTokens:      c.MaxTokens,
		AudioCtx:       c.AudioCtx,
	}
}

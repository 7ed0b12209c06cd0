package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/whisperstream/pkg/audio"
)

// ValidEngineNames lists the engine names registered by the server binary.
// Used by [Validate] to warn about unrecognised engine names.
var ValidEngineNames = []string{"whisper-native", "whisper", "openai", "mock"}

// WhisperSampleRate is the only segmenter rate the whisper-based engines
// accept. Their models are trained on 16 kHz audio.
const WhisperSampleRate = 16000

var whisperEngines = []string{"whisper-native", "whisper", "openai"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions %d must not be negative", cfg.Server.MaxSessions))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Engine
	rate := cfg.Segmenter.SampleRate
	errs = append(errs, validateEngine("engine", cfg.Engine, rate)...)
	for i, fb := range cfg.Fallbacks {
		errs = append(errs, validateEngine(fmt.Sprintf("fallback_engines[%d]", i), fb, rate)...)
	}

	// Transcription
	t := cfg.Transcription
	if t.Threads < 0 {
		errs = append(errs, fmt.Errorf("transcription.threads %d must not be negative", t.Threads))
	}
	if t.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("transcription.max_tokens %d must not be negative", t.MaxTokens))
	}
	if t.AudioCtx < 0 {
		errs = append(errs, fmt.Errorf("transcription.audio_ctx %d must not be negative", t.AudioCtx))
	}
	if t.UseGPU || t.FlashAttn {
		slog.Info("transcription.use_gpu and transcription.flash_attn are advisory; GPU use is decided when the engine library is built")
	}

	// Segmenter
	s := cfg.Segmenter
	if s.Mode != "" && !s.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("segmenter.mode %q is invalid; valid values: stream, step", s.Mode))
	}
	if err := audio.CheckSampleRate(s.SampleRate); err != nil {
		errs = append(errs, fmt.Errorf("segmenter.sample_rate: %w", err))
	}
	if s.KeepMs < 0 {
		errs = append(errs, fmt.Errorf("segmenter.keep_ms %d must not be negative", s.KeepMs))
	}
	if s.StepMs < 0 {
		errs = append(errs, fmt.Errorf("segmenter.step_ms %d must not be negative", s.StepMs))
	}
	if s.VADThreshold <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.vad_threshold %v must be positive", s.VADThreshold))
	} else if s.VADThreshold < 1 {
		slog.Warn("segmenter.vad_threshold below 1 classifies steady speech as silence; values around 1-3 are typical",
			"vad_threshold", s.VADThreshold)
	}
	if s.FreqThreshold != nil && *s.FreqThreshold < 0 {
		errs = append(errs, fmt.Errorf("segmenter.freq_threshold %v must not be negative", *s.FreqThreshold))
	}
	if s.FreqThreshold != nil && s.SampleRate > 0 && *s.FreqThreshold >= float64(s.SampleRate)/2 {
		slog.Warn("segmenter.freq_threshold is at or above the Nyquist frequency; the high-pass filter will be skipped",
			"freq_threshold", *s.FreqThreshold, "sample_rate", s.SampleRate)
	}
	if s.MaxTalkingMs <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.max_talking_ms %d must be positive", s.MaxTalkingMs))
	}
	if s.ForcedKeepFloorMs < 0 {
		errs = append(errs, fmt.Errorf("segmenter.forced_keep_floor_ms %d must not be negative", s.ForcedKeepFloorMs))
	}
	if s.MinSilenceWindowMs < 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_silence_window_ms %d must not be negative", s.MinSilenceWindowMs))
	}
	if s.MaxSilenceMs < 0 {
		errs = append(errs, fmt.Errorf("segmenter.max_silence_ms %d must not be negative", s.MaxSilenceMs))
	}
	if s.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("segmenter.queue_size %d must not be negative", s.QueueSize))
	}
	if s.MaxSilenceMs > 0 && s.MinSilenceWindowMs > s.MaxSilenceMs {
		slog.Warn("segmenter.min_silence_window_ms exceeds max_silence_ms; silence cleanups will keep the whole window",
			"min_silence_window_ms", s.MinSilenceWindowMs, "max_silence_ms", s.MaxSilenceMs)
	}

	// Noise floor
	nf := s.NoiseFloor
	if nf.Scope != "" && !nf.Scope.IsValid() {
		errs = append(errs, fmt.Errorf("segmenter.noise_floor.scope %q is invalid; valid values: session, process", nf.Scope))
	}
	if nf.Initial < 0 || nf.Min < 0 || nf.Max < 0 {
		errs = append(errs, errors.New("segmenter.noise_floor values must not be negative"))
	}
	if nf.Max > 0 && nf.Max < nf.Min {
		errs = append(errs, fmt.Errorf("segmenter.noise_floor.max %v is below min %v", nf.Max, nf.Min))
	}

	// Resilience
	r := cfg.Resilience
	if r.MaxFailures < 0 || r.HalfOpenMax < 0 || r.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	// Storage
	if cfg.Storage.MemoryLimit < 0 {
		errs = append(errs, fmt.Errorf("storage.memory_limit %d must not be negative", cfg.Storage.MemoryLimit))
	}
	if cfg.Storage.PostgresDSN != "" && cfg.Storage.RedisURL != "" {
		errs = append(errs, errors.New("storage.postgres_dsn and storage.redis_url are mutually exclusive"))
	}
	if cfg.Storage.PostgresDSN == "" && cfg.Storage.RedisURL == "" {
		slog.Debug("no storage backend configured; transcripts are kept in memory only")
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %g must be within [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateEngine checks the fields a registered engine needs. prefix names
// the entry in error messages.
func validateEngine(prefix string, e ProviderEntry, sampleRate int) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", prefix)}
	}
	validateEngineName(e.Name)
	var errs []error
	switch e.Name {
	case "whisper-native":
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required for whisper-native (path to a ggml model file)", prefix))
		}
	case "whisper":
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for whisper (whisper.cpp server address)", prefix))
		}
	case "openai":
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for openai", prefix))
		}
	}
	if slices.Contains(whisperEngines, e.Name) && sampleRate > 0 && sampleRate != WhisperSampleRate {
		errs = append(errs, fmt.Errorf("%s: %s requires segmenter.sample_rate %d, got %d",
			prefix, e.Name, WhisperSampleRate, sampleRate))
	}
	return errs
}

// validateEngineName logs a warning if name is not one of [ValidEngineNames].
func validateEngineName(name string) {
	if slices.Contains(ValidEngineNames, name) {
		return
	}
	slog.Warn("unknown engine name, may be a typo or a third-party engine",
		"name", name,
		"known", ValidEngineNames,
	)
}

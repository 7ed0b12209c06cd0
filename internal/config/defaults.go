package config

import (
	"time"

	"github.com/MrWong99/whisperstream/internal/session"
	"github.com/MrWong99/whisperstream/pkg/provider/vad/energy"
	"github.com/MrWong99/whisperstream/pkg/segment"
)

// Defaults for fields the segment package does not default itself.
const (
	DefaultListenAddr         = ":8080"
	DefaultMaxUploadBytes     = 64 << 20
	DefaultStepMs             = 3000
	DefaultMinSilenceWindowMs = 1000
	DefaultMaxSilenceMs       = 3000
	DefaultQueueSize          = 64
	DefaultServiceName        = "whisperstream"
)

// ApplyDefaults fills zero-valued fields with their defaults. It is called by
// [LoadFromReader] before validation and is idempotent.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}

	if c.Transcription.Threads == 0 {
		c.Transcription.Threads = segment.DefaultThreads
	}

	s := &c.Segmenter
	if s.Mode == "" {
		s.Mode = ModeStream
	}
	if s.SampleRate == 0 {
		s.SampleRate = segment.DefaultSampleRate
	}
	if s.KeepMs == 0 {
		s.KeepMs = segment.DefaultKeepMs
	}
	if s.StepMs == 0 {
		s.StepMs = DefaultStepMs
	}
	if s.VADThreshold == 0 {
		s.VADThreshold = segment.DefaultVADThreshold
	}
	if s.FreqThreshold == nil {
		f := segment.DefaultFreqThreshold
		s.FreqThreshold = &f
	}
	if s.MaxTalkingMs == 0 {
		s.MaxTalkingMs = segment.DefaultMaxTalkingMs
	}
	if s.ForcedKeepFloorMs == 0 {
		s.ForcedKeepFloorMs = segment.DefaultForcedKeepFloorMs
	}
	if s.MinSilenceWindowMs == 0 {
		s.MinSilenceWindowMs = DefaultMinSilenceWindowMs
	}
	if s.MaxSilenceMs == 0 {
		s.MaxSilenceMs = DefaultMaxSilenceMs
	}
	if s.QueueSize == 0 {
		s.QueueSize = DefaultQueueSize
	}
	if s.NoiseFloor.Scope == "" {
		s.NoiseFloor.Scope = ScopeSession
	}
	if s.NoiseFloor.Min == 0 {
		s.NoiseFloor.Min = energy.DefaultNoiseFloorMin
	}

	if c.Resilience.MaxFailures == 0 {
		c.Resilience.MaxFailures = 5
	}
	if c.Resilience.ResetTimeout == 0 {
		c.Resilience.ResetTimeout = 30 * time.Second
	}
	if c.Resilience.HalfOpenMax == 0 {
		c.Resilience.HalfOpenMax = 3
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

// SegmentConfig maps the segmenter and transcription sections onto a
// [segment.Config].
func (c *Config) SegmentConfig() segment.Config {
	var freq float64
	if c.Segmenter.FreqThreshold != nil {
		freq = *c.Segmenter.FreqThreshold
	}
	language := c.Transcription.Language
	if language == "auto" {
		language = ""
	}
	return segment.Config{
		SampleRate:            c.Segmenter.SampleRate,
		KeepMs:                c.Segmenter.KeepMs,
		VADThreshold:          c.Segmenter.VADThreshold,
		FreqThreshold:         freq,
		MaxTalkingMs:          c.Segmenter.MaxTalkingMs,
		ForcedKeepFloorMs:     c.Segmenter.ForcedKeepFloorMs,
		Language:              language,
		Threads:               c.Transcription.Threads,
		Translate:             c.Transcription.Translate,
		EmitTimestamps:        !c.Transcription.NoTimestamps,
		MaxTokens:             c.Transcription.MaxTokens,
		AudioCtx:              c.Transcription.AudioCtx,
		ResetNoiseFloorOnEmit: c.Segmenter.NoiseFloor.ResetOnEmit,
		Verbose:               c.Segmenter.Verbose,
	}
}

// NoiseFloorConfig maps the noise_floor section onto an
// [energy.NoiseFloorConfig].
func (c *Config) NoiseFloorConfig() energy.NoiseFloorConfig {
	return energy.NoiseFloorConfig{
		Initial: c.Segmenter.NoiseFloor.Initial,
		Min:     c.Segmenter.NoiseFloor.Min,
		Max:     c.Segmenter.NoiseFloor.Max,
	}
}

// SessionSettings maps the segmenter section onto the settings a
// [session.Manager] applies to new sessions.
func (c *Config) SessionSettings() session.Settings {
	return session.Settings{
		Mode:               session.Mode(c.Segmenter.Mode),
		Segment:            c.SegmentConfig(),
		StepMs:             c.Segmenter.StepMs,
		MinSilenceWindowMs: c.Segmenter.MinSilenceWindowMs,
		MaxSilenceMs:       c.Segmenter.MaxSilenceMs,
		QueueSize:          c.Segmenter.QueueSize,
		NoiseFloor:         c.NoiseFloorConfig(),
		SharedNoiseFloor:   c.Segmenter.NoiseFloor.Scope == ScopeProcess,
	}
}

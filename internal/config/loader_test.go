package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/whisperstream/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "missing engine",
			yaml:    "server:\n  log_level: info\n",
			wantErr: []string{"engine.name is required"},
		},
		{
			name:    "bad log level",
			yaml:    minimalYAML + "server:\n  log_level: bananas\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "native needs model",
			yaml:    "engine:\n  name: whisper-native\n",
			wantErr: []string{"engine.model is required"},
		},
		{
			name:    "remote whisper needs url",
			yaml:    "engine:\n  name: whisper\n",
			wantErr: []string{"engine.base_url is required"},
		},
		{
			name:    "openai needs key",
			yaml:    "engine:\n  name: openai\n",
			wantErr: []string{"engine.api_key is required"},
		},
		{
			name:    "fallback engines are validated",
			yaml:    minimalYAML + "fallback_engines:\n  - name: openai\n  - model: x\n",
			wantErr: []string{"fallback_engines[0].api_key is required", "fallback_engines[1].name is required"},
		},
		{
			name:    "bad mode",
			yaml:    minimalYAML + "segmenter:\n  mode: sliding\n",
			wantErr: []string{"segmenter.mode"},
		},
		{
			name:    "negative values",
			yaml:    minimalYAML + "segmenter:\n  sample_rate: -1\n  keep_ms: -5\n  vad_threshold: -1\n",
			wantErr: []string{"sample_rate", "keep_ms", "vad_threshold"},
		},
		{
			name:    "negative freq threshold",
			yaml:    minimalYAML + "segmenter:\n  freq_threshold: -10\n",
			wantErr: []string{"freq_threshold"},
		},
		{
			name:    "bad noise floor scope",
			yaml:    minimalYAML + "segmenter:\n  noise_floor:\n    scope: global\n",
			wantErr: []string{"noise_floor.scope"},
		},
		{
			name:    "noise floor max below min",
			yaml:    minimalYAML + "segmenter:\n  noise_floor:\n    min: 0.2\n    max: 0.1\n",
			wantErr: []string{"noise_floor.max"},
		},
		{
			name:    "tls without key",
			yaml:    minimalYAML + "server:\n  tls:\n    cert_file: cert.pem\n",
			wantErr: []string{"server.tls"},
		},
		{
			name:    "negative memory limit",
			yaml:    minimalYAML + "storage:\n  memory_limit: -1\n",
			wantErr: []string{"storage.memory_limit"},
		},
		{
			name:    "two storage backends",
			yaml:    minimalYAML + "storage:\n  postgres_dsn: postgres://localhost/db\n  redis_url: redis://localhost:6379\n",
			wantErr: []string{"mutually exclusive"},
		},
		{
			name:    "sample rate out of range",
			yaml:    minimalYAML + "segmenter:\n  sample_rate: 1000000\n",
			wantErr: []string{"segmenter.sample_rate", "out of range"},
		},
		{
			name:    "whisper engines need 16 kHz",
			yaml:    "engine:\n  name: whisper-native\n  model: m.bin\nfallback_engines:\n  - name: whisper\n    base_url: http://w\n  - name: mock\nsegmenter:\n  sample_rate: 48000\n",
			wantErr: []string{"engine: whisper-native requires segmenter.sample_rate 16000, got 48000", "fallback_engines[0]: whisper requires"},
		},
		{
			name:    "sample ratio out of range",
			yaml:    minimalYAML + "telemetry:\n  trace_sample_ratio: 1.5\n",
			wantErr: []string{"trace_sample_ratio"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidate_ReportsAllFailures(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
segmenter:
  mode: sliding
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"engine.name", "server.log_level", "segmenter.mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidate_UnknownEngineOnlyWarns(t *testing.T) {
	t.Parallel()
	if _, err := config.LoadFromReader(strings.NewReader("engine:\n  name: custom-engine\n")); err != nil {
		t.Errorf("unknown engine names should only warn, got: %v", err)
	}
}

func TestValidate_StepMode(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML + "segmenter:\n  mode: step\n  step_ms: 2000\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Segmenter.Mode != config.ModeStep || cfg.Segmenter.StepMs != 2000 {
		t.Errorf("segmenter = %+v", cfg.Segmenter)
	}
}

func TestEnumValidity(t *testing.T) {
	t.Parallel()
	if !config.LogWarn.IsValid() || config.LogLevel("trace").IsValid() {
		t.Error("LogLevel.IsValid")
	}
	if !config.ModeStep.IsValid() || config.SegmenterMode("").IsValid() {
		t.Error("SegmenterMode.IsValid")
	}
	if !config.ScopeProcess.IsValid() || config.NoiseFloorScope("global").IsValid() {
		t.Error("NoiseFloorScope.IsValid")
	}
}

func TestValidate_SampleRateForOtherEngines(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML + "segmenter:\n  sample_rate: 8000\n"))
	if err != nil {
		t.Fatalf("mock engine at 8 kHz: %v", err)
	}
	if cfg.Segmenter.SampleRate != 8000 {
		t.Errorf("sample_rate = %d, want 8000", cfg.Segmenter.SampleRate)
	}
}

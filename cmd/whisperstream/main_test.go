package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/whisperstream/internal/config"
	"github.com/MrWong99/whisperstream/internal/observe"
	"github.com/MrWong99/whisperstream/internal/session"
	"github.com/MrWong99/whisperstream/pkg/provider/stt"
	sttmock "github.com/MrWong99/whisperstream/pkg/provider/stt/mock"
)

func loadConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestBuildTranscriber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		yaml        string
		wantText    string
		wantHealthy bool
	}{
		{
			name:        "breaker around mock engine",
			yaml:        "engine:\n  name: mock\n  options:\n    text: hi\n",
			wantText:    "hi",
			wantHealthy: true,
		},
		{
			name:     "breaker disabled",
			yaml:     "engine:\n  name: mock\n  options:\n    text: plain\nresilience:\n  disabled: true\n",
			wantText: "plain",
		},
		{
			name:        "with fallback engines",
			yaml:        "engine:\n  name: mock\n  options:\n    text: first\nfallback_engines:\n  - name: mock\n    options:\n      text: second\n",
			wantText:    "first",
			wantHealthy: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reg := config.NewRegistry()
			registerBuiltinEngines(reg)

			tr, healthy, err := buildTranscriber(loadConfig(t, tt.yaml), reg, observe.DefaultMetrics())
			if err != nil {
				t.Fatalf("buildTranscriber: %v", err)
			}
			defer closeTranscriber(tr)

			res, err := tr.Transcribe(context.Background(), []float32{0}, stt.Options{})
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if res.Text() != tt.wantText {
				t.Errorf("text = %q, want %q", res.Text(), tt.wantText)
			}
			if (healthy != nil) != tt.wantHealthy {
				t.Fatalf("health check present = %v, want %v", healthy != nil, tt.wantHealthy)
			}
			if healthy != nil && !healthy() {
				t.Error("fresh engine reported unhealthy")
			}
		})
	}
}

func TestBuildTranscriber_UnknownFallback(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinEngines(reg)

	cfg := loadConfig(t, "engine:\n  name: mock\nfallback_engines:\n  - name: deepspeech\n")
	_, _, err := buildTranscriber(cfg, reg, observe.DefaultMetrics())
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestApplyConfigChange(t *testing.T) {
	t.Parallel()
	old := loadConfig(t, "engine:\n  name: mock\n")
	next := loadConfig(t, "engine:\n  name: mock\nserver:\n  log_level: debug\nsegmenter:\n  mode: step\n  step_ms: 2000\n")

	mgr := session.NewManager(&sttmock.Transcriber{}, old.SessionSettings())
	t.Cleanup(func() { _ = mgr.Close() })

	var level slog.LevelVar
	applyConfigChange(next, config.Diff(old, next), &level, mgr)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	st := mgr.Settings()
	if st.Mode != session.ModeStep || st.StepMs != 2000 {
		t.Errorf("settings = %+v, want step mode with 2000 ms", st)
	}
}

func TestOptString(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"s": "x", "i": 4}
	if optString(opts, "s") != "x" || optString(opts, "i") != "" || optString(nil, "s") != "" {
		t.Error("optString")
	}
}

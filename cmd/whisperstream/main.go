// Command whisperstream is the main entry point for the whisperstream
// transcription server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/whisperstream/internal/config"
	"github.com/MrWong99/whisperstream/internal/health"
	"github.com/MrWong99/whisperstream/internal/observe"
	"github.com/MrWong99/whisperstream/internal/resilience"
	"github.com/MrWong99/whisperstream/internal/server"
	"github.com/MrWong99/whisperstream/internal/session"
	"github.com/MrWong99/whisperstream/internal/transcript"
	"github.com/MrWong99/whisperstream/pkg/audio"
	"github.com/MrWong99/whisperstream/pkg/provider/stt"
	sttmock "github.com/MrWong99/whisperstream/pkg/provider/stt/mock"
	oaistt "github.com/MrWong99/whisperstream/pkg/provider/stt/openai"
	"github.com/MrWong99/whisperstream/pkg/provider/stt/whisper"
	"github.com/MrWong99/whisperstream/pkg/segment"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	filePath := flag.String("file", "", "transcribe a WAV file to stdout and exit instead of serving")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "whisperstream: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "whisperstream: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(&level))

	slog.Info("whisperstream starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"engine", cfg.Engine.Name,
		"mode", cfg.Segmenter.Mode,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(telemetry.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Transcription engine ──────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinEngines(reg)

	tr, breakers, err := buildTranscriber(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build transcription engine", "err", err)
		return 1
	}
	defer closeTranscriber(tr)

	// ── Transcript store ──────────────────────────────────────────────────────
	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open transcript store", "err", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("transcript store close error", "err", err)
		}
	}()

	// ── Sessions ──────────────────────────────────────────────────────────────
	mgr := session.NewManager(tr, cfg.SessionSettings(),
		session.WithStore(store),
		session.WithMetrics(metrics),
		session.WithMaxSessions(cfg.Server.MaxSessions),
	)

	if *filePath != "" {
		code := transcribeFile(ctx, mgr, *filePath)
		if err := mgr.Close(); err != nil {
			slog.Warn("session manager close error", "err", err)
		}
		return code
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	checks := []health.Checker{{Name: "transcripts", Check: store.Ping}}
	if breakers != nil {
		checks = append(checks, health.EngineCheck("engine", breakers))
	}
	hh := health.New(checks)

	srvCfg := server.Config{
		ListenAddr:     cfg.Server.ListenAddr,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}
	if cfg.Server.TLS != nil {
		srvCfg.CertFile = cfg.Server.TLS.CertFile
		srvCfg.KeyFile = cfg.Server.TLS.KeyFile
	}
	srv := server.New(srvCfg, mgr,
		server.WithStore(store),
		server.WithMetrics(metrics),
		server.WithMetricsHandler(telemetry.MetricsHandler()),
		server.WithHealth(hh),
	)

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, new *config.Config, d config.ConfigDiff) {
		applyConfigChange(new, d, &level, mgr)
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", "err", err)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	hh.SetDraining(true)
	if err := mgr.Close(); err != nil {
		slog.Warn("session manager close error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

// registerBuiltinEngines wires all built-in transcription engines into reg.
func registerBuiltinEngines(reg *config.Registry) {
	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry, _ config.TranscriptionConfig) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return whisper.NewNative(modelPath)
	})

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry, _ config.TranscriptionConfig) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry, _ config.TranscriptionConfig) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaistt.WithOrganization(org))
		}
		if d := optString(entry.Options, "timeout"); d != "" {
			timeout, err := time.ParseDuration(d)
			if err != nil {
				return nil, fmt.Errorf("openai: invalid timeout %q: %w", d, err)
			}
			opts = append(opts, oaistt.WithTimeout(timeout))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// mock answers every span with a fixed text; useful for load tests and
	// client development without a model.
	reg.RegisterTranscriber("mock", func(entry config.ProviderEntry, _ config.TranscriptionConfig) (stt.Transcriber, error) {
		return &sttmock.Transcriber{DefaultText: optString(entry.Options, "text")}, nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered engine", "name", name)
	}
}

// buildTranscriber creates the configured engine and wraps it in the metrics
// decorator and, unless disabled, a circuit breaker. With fallback engines
// configured every engine gets its own breaker and failures move on to the
// next one. The returned breaker snapshot is nil when no breaker is in place.
func buildTranscriber(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (stt.Transcriber, func() []resilience.Stats, error) {
	primary, err := reg.CreateTranscriber(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create engine %q: %w", cfg.Engine.Name, err)
	}
	slog.Info("engine created", "name", cfg.Engine.Name, "model", cfg.Engine.Model)

	cbCfg := resilience.CircuitBreakerConfig{
		Name:         cfg.Engine.Name,
		MaxFailures:  cfg.Resilience.MaxFailures,
		ResetTimeout: cfg.Resilience.ResetTimeout,
		HalfOpenMax:  cfg.Resilience.HalfOpenMax,
		OnStateChange: func(name string, _, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}

	switch {
	case len(cfg.Fallbacks) > 0:
		fb := resilience.NewFallbackTranscriber(
			observe.InstrumentTranscriber(primary, cfg.Engine.Name, m),
			cfg.Engine.Name,
			resilience.FallbackConfig{CircuitBreaker: cbCfg},
		)
		for i, entry := range cfg.Fallbacks {
			tr, err := reg.Create(entry, cfg.Transcription)
			if err != nil {
				closeTranscriber(fb)
				return nil, nil, fmt.Errorf("create fallback engine %d %q: %w", i, entry.Name, err)
			}
			fb.AddFallback(entry.Name, observe.InstrumentTranscriber(tr, entry.Name, m))
			slog.Info("fallback engine created", "name", entry.Name, "model", entry.Model)
		}
		return fb, fb.Stats, nil

	case !cfg.Resilience.Disabled:
		rt := resilience.NewTranscriber(primary, cbCfg)
		stats := func() []resilience.Stats { return []resilience.Stats{rt.Breaker().Stats()} }
		return observe.InstrumentTranscriber(rt, cfg.Engine.Name, m), stats, nil

	default:
		return observe.InstrumentTranscriber(primary, cfg.Engine.Name, m), nil, nil
	}
}

// closeTranscriber releases engine resources when tr holds any.
func closeTranscriber(tr stt.Transcriber) {
	c, ok := tr.(stt.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		slog.Warn("engine close error", "err", err)
	}
}

// openStore connects to PostgreSQL or Redis when configured and falls back
// to the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (transcript.Store, error) {
	switch {
	case cfg.Storage.PostgresDSN != "":
		st, err := transcript.NewPostgresStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		slog.Info("transcript store: postgres")
		return st, nil
	case cfg.Storage.RedisURL != "":
		st, err := transcript.NewRedisStore(ctx, cfg.Storage.RedisURL,
			transcript.WithSessionLimit(cfg.Storage.MemoryLimit))
		if err != nil {
			return nil, err
		}
		slog.Info("transcript store: redis", "limit_per_session", cfg.Storage.MemoryLimit)
		return st, nil
	default:
		slog.Info("transcript store: in memory", "limit_per_session", cfg.Storage.MemoryLimit)
		return transcript.NewMemStore(cfg.Storage.MemoryLimit), nil
	}
}

// applyConfigChange applies the hot-reloadable parts of a config change.
func applyConfigChange(new *config.Config, d config.ConfigDiff, level *slog.LevelVar, mgr *session.Manager) {
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SegmenterChanged {
		mgr.UpdateSettings(new.SessionSettings())
		slog.Info("segmenter settings updated, applies to new sessions", "mode", new.Segmenter.Mode)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ── File mode ─────────────────────────────────────────────────────────────────

// transcribeFile runs a WAV file through one stream-mode session and prints
// every transcript as it would have been emitted live.
func transcribeFile(ctx context.Context, mgr *session.Manager, path string) int {
	f, err := os.Open(path)
	if err != nil {
		slog.Error("open audio file", "path", path, "err", err)
		return 1
	}
	defer f.Close()

	wav, err := audio.DecodeWAV(f)
	if err != nil {
		slog.Error("decode audio file", "path", path, "err", err)
		return 1
	}
	rate := mgr.Settings().Segment.SampleRate
	if rate == 0 {
		rate = segment.DefaultSampleRate
	}
	samples := audio.Resample(wav.Samples, wav.SampleRate, rate)

	events, err := mgr.Transcribe(ctx, samples, session.Options{Mode: session.ModeStream}, session.DefaultBatchChunkMs)
	if err != nil {
		slog.Error("transcribe audio file", "path", path, "err", err)
		return 1
	}
	failed := false
	for _, ev := range events {
		if ev.Err != nil {
			slog.Error("span failed", "reason", ev.Reason, "err", ev.Err)
			failed = true
			continue
		}
		fmt.Printf("[%s] %s\n", ev.Reason, ev.Text)
	}
	if failed {
		return 1
	}
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// Package server exposes whisperstream over HTTP.
//
// Routes:
//
//   - GET  /v1/stream: websocket; binary messages are audio, text messages
//     are JSON control frames, transcripts come back as JSON text messages.
//   - POST /v1/transcribe: transcribe an uploaded WAV file.
//   - GET  /v1/sessions/{id}/transcripts: stored transcripts of a session.
//   - GET  /v1/transcripts?q=...: full-text search over stored transcripts.
//   - GET  /metrics, /healthz, /readyz: operations endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/whisperstream/internal/health"
	"github.com/MrWong99/whisperstream/internal/observe"
	"github.com/MrWong99/whisperstream/internal/session"
	"github.com/MrWong99/whisperstream/internal/transcript"
)

// Default server limits.
const (
	DefaultMaxUploadBytes = 64 << 20
	defaultShutdownWait   = 15 * time.Second
	maxMessageBytes       = 4 << 20
)

// Config holds the listener settings.
type Config struct {
	// ListenAddr is the TCP address to listen on, e.g. ":8080".
	ListenAddr string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	// MaxUploadBytes caps POST /v1/transcribe bodies. Defaults to 64 MiB.
	MaxUploadBytes int64
}

// Option is a functional option for [New].
type Option func(*Server)

// WithStore serves transcript queries from st.
func WithStore(st transcript.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics wraps every route in [observe.Middleware].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithHealth mounts h on /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// Server is the HTTP front end of a [session.Manager].
type Server struct {
	cfg            Config
	mgr            *session.Manager
	store          transcript.Store
	metrics        *observe.Metrics
	metricsHandler http.Handler
	health         *health.Handler
	log            *slog.Logger

	handler http.Handler
}

// New builds a Server. Routes are fixed at construction time.
func New(cfg Config, mgr *session.Manager, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{cfg: cfg, mgr: mgr, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("POST /v1/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /v1/sessions/{id}/transcripts", s.handleListTranscripts)
	mux.HandleFunc("GET /v1/transcripts", s.handleSearchTranscripts)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	if s.health != nil {
		s.health.Register(mux)
	}

	var h http.Handler = mux
	if s.metrics != nil {
		h = observe.Middleware(s.metrics)(h)
	}
	return h
}

// Handler returns the root handler, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts the listener down and waits
// up to 15 seconds for in-flight requests. Open streams end when ctx is
// cancelled, after their queued audio has been transcribed.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Streams observe ctx so they end when the server stops.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.cfg.ListenAddr, "tls", s.cfg.CertFile != "")
		var err error
		if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
			err = srv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

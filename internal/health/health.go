// Package health serves the liveness and readiness endpoints of the
// transcription server.
//
// /healthz answers 200 as long as the process can serve HTTP. /readyz runs
// every registered [Checker] concurrently and folds the outcomes into one of
// three levels:
//
//	ok        every check passed                        200
//	degraded  some check returned a [Degraded] error    200
//	fail      a check failed, or the server is draining 503
//
// A degraded server still accepts streams, e.g. while the primary engine's
// breaker is open but a fallback engine answers.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/whisperstream/internal/resilience"
)

// DefaultTimeout bounds a single readiness check.
const DefaultTimeout = 5 * time.Second

// Status is the outcome of a check or of the whole readiness check.
type Status string

// Readiness levels, ordered from best to worst.
const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFail     Status = "fail"
)

// Checker tests one dependency. Check returns nil when the dependency is
// usable, a [Degraded] error when it works with reduced capacity, and any
// other error when it is unusable. Check must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type degradedError struct{ err error }

func (e degradedError) Error() string { return e.err.Error() }
func (e degradedError) Unwrap() error { return e.err }

// Degraded marks err as a partial failure that keeps the server ready.
func Degraded(err error) error {
	if err == nil {
		return nil
	}
	return degradedError{err: err}
}

// CheckResult is the JSON view of one check.
type CheckResult struct {
	Status    Status  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// Report is the JSON body of /readyz. /healthz only sets Status.
type Report struct {
	Status   Status                 `json:"status"`
	Draining bool                   `json:"draining,omitempty"`
	Checks   map[string]CheckResult `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithTimeout overrides [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
	draining atomic.Bool
}

// New returns a [Handler] evaluating checkers on every /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// SetDraining marks the server as shutting down. A draining server fails
// readiness without running any check.
func (h *Handler) SetDraining(draining bool) {
	h.draining.Store(draining)
}

// Evaluate runs every checker and returns the combined report.
func (h *Handler) Evaluate(ctx context.Context) Report {
	if h.draining.Load() {
		return Report{Status: StatusFail, Draining: true}
	}

	var (
		mu  sync.Mutex
		rep = Report{Status: StatusOK, Checks: make(map[string]CheckResult, len(h.checkers))}
	)
	// Goroutines never return an error so one failing check cannot cancel
	// the others.
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			res := h.run(ctx, c)

			mu.Lock()
			defer mu.Unlock()
			rep.Checks[c.Name] = res
			rep.Status = worst(rep.Status, res.Status)
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

func (h *Handler) run(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{
		Status:    StatusOK,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	var deg degradedError
	switch {
	case err == nil:
	case errors.As(err, &deg):
		res.Status, res.Error = StatusDegraded, err.Error()
	default:
		res.Status, res.Error = StatusFail, err.Error()
	}
	return res
}

func worst(a, b Status) Status {
	rank := map[Status]int{StatusOK: 0, StatusDegraded: 1, StatusFail: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Healthz is the liveness check.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz is the readiness check.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// EngineCheck reports the breakers returned by stats. It fails when every
// engine rejects calls and is degraded when only some of them do.
func EngineCheck(name string, stats func() []resilience.Stats) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		all := stats()
		var open []string
		for _, s := range all {
			if s.State == resilience.StateOpen {
				open = append(open, s.Name)
			}
		}
		switch {
		case len(open) == 0:
			return nil
		case len(open) == len(all):
			return fmt.Errorf("circuit open: %s", strings.Join(open, ", "))
		default:
			return Degraded(fmt.Errorf("circuit open: %s", strings.Join(open, ", ")))
		}
	}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

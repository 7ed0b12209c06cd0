// Package resilience protects the transcription engine from overload.
//
// [CircuitBreaker] stops calls to an engine after repeated failures and lets
// a few trial calls through once a cool-down has passed. [Transcriber] puts
// one breaker in front of a single engine; [FallbackTranscriber] gives every
// engine of a failover chain its own breaker. Spans are never retried on the
// same engine: a rejected span is reported to the caller like any other
// failure.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker defaults.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed passes every call through.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax trial calls through. That many
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a [CircuitBreaker]. Zero values select the
// package defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines and [Stats], usually the engine name.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker.
	MaxFailures int

	// ResetTimeout is the cool-down before an open breaker admits trials.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of trials admitted, and the number of
	// successes required to close again.
	HalfOpenMax int

	// OnStateChange is called after every transition with the breaker lock
	// held. It must not call back into the breaker.
	OnStateChange func(name string, from, to State)

	// Logger receives transition logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Now is the time source. Defaults to time.Now.
	Now func() time.Time
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name                string
	State               State
	ConsecutiveFailures int
	LastFailure         time.Time
}

// CircuitBreaker is a closed/open/half-open breaker.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	log *slog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trials      int // admitted in the current half-open round
	trialOK     int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &CircuitBreaker{
		cfg: cfg,
		log: log.With("breaker", cfg.Name),
	}
}

// Execute calls fn when the breaker admits it and records the outcome.
//
// A done ctx is returned as is without calling fn. An error from fn that
// only reflects the cancellation of ctx is passed through but not counted
// as a failure, so a client hanging up never trips the breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	trial, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		cb.release(trial)
		return err
	}
	cb.settle(trial, err)
	return err
}

// admit decides whether a call may proceed and reports whether it is a
// half-open trial.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.lastFailure) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.trials, cb.trialOK = 0, 0
		cb.transition(StateHalfOpen)
	}
	if cb.state != StateHalfOpen {
		return false, nil
	}
	if cb.trials >= cb.cfg.HalfOpenMax {
		return false, ErrCircuitOpen
	}
	cb.trials++
	return true, nil
}

// release returns an unused trial slot.
func (cb *CircuitBreaker) release(trial bool) {
	if !trial {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.trials > 0 {
		cb.trials--
	}
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.lastFailure = cb.cfg.Now()
		cb.failures++
		switch {
		case trial && cb.state == StateHalfOpen:
			cb.transition(StateOpen)
		case cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures:
			cb.transition(StateOpen)
		}
		return
	}

	cb.failures = 0
	if trial && cb.state == StateHalfOpen {
		cb.trialOK++
		if cb.trialOK >= cb.cfg.HalfOpenMax {
			cb.transition(StateClosed)
		}
	}
}

// State returns the current state. An open breaker whose cool-down has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.effectiveState()
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:                cb.cfg.Name,
		State:               cb.effectiveState(),
		ConsecutiveFailures: cb.failures,
		LastFailure:         cb.lastFailure,
	}
}

func (cb *CircuitBreaker) effectiveState() State {
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.trials, cb.trialOK = 0, 0, 0
	cb.transition(StateClosed)
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}

	switch to {
	case StateOpen:
		cb.log.Warn("circuit breaker opened", "from", from, "consecutive_failures", cb.failures)
	default:
		cb.log.Info("circuit breaker state changed", "from", from, "to", to)
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

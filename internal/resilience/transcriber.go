package resilience

import (
	"context"

	"github.com/MrWong99/whisperstream/pkg/provider/stt"
)

// Transcriber guards an stt.Transcriber with a [CircuitBreaker]. While the
// breaker is open, Transcribe fails fast with [ErrCircuitOpen] instead of
// calling the engine.
type Transcriber struct {
	next stt.Transcriber
	cb   *CircuitBreaker
}

var (
	_ stt.Transcriber = (*Transcriber)(nil)
	_ stt.Closer      = (*Transcriber)(nil)
)

// NewTranscriber wraps next with a circuit breaker built from cfg.
func NewTranscriber(next stt.Transcriber, cfg CircuitBreakerConfig) *Transcriber {
	if cfg.Name == "" {
		cfg.Name = "transcriber"
	}
	return &Transcriber{next: next, cb: NewCircuitBreaker(cfg)}
}

// Transcribe implements stt.Transcriber. Cancellation of ctx by the caller is
// not counted as an engine failure.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error) {
	var res stt.Result
	err := t.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		res, err = t.next.Transcribe(ctx, samples, opts)
		return err
	})
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// Breaker returns the underlying circuit breaker, e.g. for readiness checks.
func (t *Transcriber) Breaker() *CircuitBreaker { return t.cb }

// Close closes the wrapped transcriber when it implements stt.Closer.
func (t *Transcriber) Close() error {
	if c, ok := t.next.(stt.Closer); ok {
		return c.Close()
	}
	return nil
}

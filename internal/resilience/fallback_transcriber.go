package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/whisperstream/pkg/provider/stt"
)

// FallbackTranscriber implements stt.Transcriber with failover across
// several engines. Each engine has its own circuit breaker.
type FallbackTranscriber struct {
	group *FallbackGroup[stt.Transcriber]
}

var (
	_ stt.Transcriber = (*FallbackTranscriber)(nil)
	_ stt.Closer      = (*FallbackTranscriber)(nil)
)

// NewFallbackTranscriber creates a [FallbackTranscriber] with primary as the
// preferred engine.
func NewFallbackTranscriber(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *FallbackTranscriber {
	return &FallbackTranscriber{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional engine. Must be called before the
// first Transcribe.
func (f *FallbackTranscriber) AddFallback(name string, tr stt.Transcriber) {
	f.group.AddFallback(name, tr)
}

// Transcribe sends the span to the first healthy engine and moves on to the
// next one when it fails. A cancelled ctx stops the failover and does not
// count against the engine that observed it.
func (f *FallbackTranscriber) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error) {
	var res stt.Result
	err := f.group.Execute(ctx, func(ctx context.Context, tr stt.Transcriber) error {
		var err error
		res, err = tr.Transcribe(ctx, samples, opts)
		return err
	})
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// Healthy reports whether at least one engine accepts calls.
func (f *FallbackTranscriber) Healthy() bool { return f.group.Healthy() }

// States returns the breaker state per engine name.
func (f *FallbackTranscriber) States() map[string]State { return f.group.States() }

// Stats returns a breaker snapshot per engine, primary first.
func (f *FallbackTranscriber) Stats() []Stats { return f.group.Stats() }

// Close closes every engine that implements stt.Closer.
func (f *FallbackTranscriber) Close() error {
	var errs []error
	f.group.Each(func(name string, tr stt.Transcriber) {
		if c, ok := tr.(stt.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

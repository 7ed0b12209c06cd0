// Package mock provides test doubles for the stt package interfaces.
//
// Use Transcriber to script results or failures and inspect the sample spans
// and options that were submitted.
//
// Example:
//
//	tr := &mock.Transcriber{Texts: []string{"hello", "world"}}
//	res, _ := tr.Transcribe(ctx, samples, stt.Options{})
//	_ = tr.Calls()[0].Samples
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/whisperstream/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the span passed to Transcribe.
	Samples []float32

	// Opts is the Options value passed to Transcribe.
	Opts stt.Options
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Texts are returned as single-segment results by successive calls. Once
	// exhausted, DefaultText is used.
	Texts []string

	// DefaultText is returned after Texts is exhausted.
	DefaultText string

	// Err, if non-nil, is returned by every call.
	Err error

	// Errs are returned by successive calls before Err is consulted. A nil
	// entry means that call succeeds.
	Errs []error

	// TranscribeFunc, if set, replaces the scripted behaviour entirely.
	TranscribeFunc func(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error)

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall

	// Closed reports whether Close was called.
	Closed bool
}

// Transcribe records the call and returns the next scripted outcome.
func (m *Transcriber) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error) {
	m.mu.Lock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	m.TranscribeCalls = append(m.TranscribeCalls, TranscribeCall{Samples: cp, Opts: opts})
	fn := m.TranscribeFunc
	if fn != nil {
		m.mu.Unlock()
		return fn(ctx, samples, opts)
	}
	defer m.mu.Unlock()

	if len(m.Errs) > 0 {
		err := m.Errs[0]
		m.Errs = m.Errs[1:]
		if err != nil {
			if len(m.Texts) > 0 {
				m.Texts = m.Texts[1:]
			}
			return stt.Result{}, err
		}
	} else if m.Err != nil {
		return stt.Result{}, m.Err
	}

	text := m.DefaultText
	if len(m.Texts) > 0 {
		text = m.Texts[0]
		m.Texts = m.Texts[1:]
	}
	if text == "" {
		return stt.Result{Language: opts.Language}, nil
	}
	return stt.Result{
		Segments: []stt.Segment{{Text: text}},
		Language: opts.Language,
	}, nil
}

// Close marks the transcriber closed.
func (m *Transcriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Calls returns a snapshot of the recorded calls. Thread-safe.
func (m *Transcriber) Calls() []TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TranscribeCall, len(m.TranscribeCalls))
	copy(out, m.TranscribeCalls)
	return out
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.TranscribeCalls)
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)

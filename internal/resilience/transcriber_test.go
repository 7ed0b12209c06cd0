package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/whisperstream/pkg/provider/stt"
	sttmock "github.com/MrWong99/whisperstream/pkg/provider/stt/mock"
)

func TestTranscriber_PassesThrough(t *testing.T) {
	t.Parallel()
	inner := &sttmock.Transcriber{DefaultText: "hi"}
	tr := NewTranscriber(inner, CircuitBreakerConfig{})

	res, err := tr.Transcribe(context.Background(), []float32{0.1}, stt.Options{Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text() != "hi" {
		t.Errorf("text = %q", res.Text())
	}
	if calls := inner.Calls(); len(calls) != 1 || calls[0].Opts.Language != "en" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestTranscriber_OpensAfterFailures(t *testing.T) {
	t.Parallel()
	inner := &sttmock.Transcriber{Err: errTest}
	tr := NewTranscriber(inner, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	for range 2 {
		if _, err := tr.Transcribe(context.Background(), nil, stt.Options{}); !errors.Is(err, errTest) {
			t.Fatalf("err = %v, want engine error", err)
		}
	}
	if _, err := tr.Transcribe(context.Background(), nil, stt.Options{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if inner.CallCount() != 2 {
		t.Errorf("engine calls = %d, want 2 (open breaker must not call through)", inner.CallCount())
	}
	if tr.Breaker().State() != StateOpen {
		t.Errorf("state = %v, want open", tr.Breaker().State())
	}
}

func TestTranscriber_CancellationNotCounted(t *testing.T) {
	t.Parallel()
	inner := &sttmock.Transcriber{
		TranscribeFunc: func(ctx context.Context, _ []float32, _ stt.Options) (stt.Result, error) {
			return stt.Result{}, ctx.Err()
		},
	}
	tr := NewTranscriber(inner, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 3 {
		if _, err := tr.Transcribe(ctx, nil, stt.Options{}); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}
	if tr.Breaker().State() != StateClosed {
		t.Errorf("state = %v, cancellations must not open the breaker", tr.Breaker().State())
	}
}

func TestTranscriber_Close(t *testing.T) {
	t.Parallel()
	inner := &sttmock.Transcriber{}
	tr := NewTranscriber(inner, CircuitBreakerConfig{})
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if !inner.Closed {
		t.Error("inner transcriber was not closed")
	}
}

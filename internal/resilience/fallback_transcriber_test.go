package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/whisperstream/pkg/provider/stt"
	sttmock "github.com/MrWong99/whisperstream/pkg/provider/stt/mock"
)

func newFallback(primary, secondary stt.Transcriber) *FallbackTranscriber {
	fb := NewFallbackTranscriber(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fb.AddFallback("secondary", secondary)
	return fb
}

func TestFallbackTranscriber_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{DefaultText: "primary"}
	secondary := &sttmock.Transcriber{DefaultText: "secondary"}
	fb := newFallback(primary, secondary)

	res, err := fb.Transcribe(context.Background(), []float32{0.1}, stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text() != "primary" {
		t.Errorf("text = %q, want primary", res.Text())
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestFallbackTranscriber_Failover(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{Err: errTest}
	secondary := &sttmock.Transcriber{DefaultText: "secondary"}
	fb := newFallback(primary, secondary)

	for range 3 {
		res, err := fb.Transcribe(context.Background(), []float32{0.1}, stt.Options{Language: "de"})
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		if res.Text() != "secondary" {
			t.Fatalf("text = %q, want secondary", res.Text())
		}
	}
	// The primary breaker opens after two failures and is skipped afterwards.
	if primary.CallCount() != 2 {
		t.Errorf("primary calls = %d, want 2", primary.CallCount())
	}
	if calls := secondary.Calls(); len(calls) != 3 || calls[0].Opts.Language != "de" {
		t.Errorf("secondary calls = %+v", calls)
	}
	if st := fb.States(); st["primary"] != StateOpen || st["secondary"] != StateClosed {
		t.Errorf("states = %v", st)
	}
	if !fb.Healthy() {
		t.Error("Healthy() = false while the fallback works")
	}
}

func TestFallbackTranscriber_AllFail(t *testing.T) {
	t.Parallel()
	fb := newFallback(&sttmock.Transcriber{Err: errTest}, &sttmock.Transcriber{Err: errTest})

	_, err := fb.Transcribe(context.Background(), nil, stt.Options{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackTranscriber_CancellationStopsFailover(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{
		TranscribeFunc: func(ctx context.Context, _ []float32, _ stt.Options) (stt.Result, error) {
			return stt.Result{}, ctx.Err()
		},
	}
	secondary := &sttmock.Transcriber{DefaultText: "secondary"}
	fb := newFallback(primary, secondary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 3 {
		if _, err := fb.Transcribe(ctx, nil, stt.Options{}); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times after cancellation", secondary.CallCount())
	}
	if st := fb.States(); st["primary"] != StateClosed {
		t.Errorf("primary state = %v, cancellation must not count", st["primary"])
	}
}

func TestFallbackTranscriber_CloseClosesAll(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Transcriber{}
	secondary := &sttmock.Transcriber{}
	fb := newFallback(primary, secondary)

	if err := fb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !primary.Closed || !secondary.Closed {
		t.Errorf("closed = %v/%v, want both", primary.Closed, secondary.Closed)
	}
}

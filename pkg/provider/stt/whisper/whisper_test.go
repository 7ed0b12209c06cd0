package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/whisperstream/pkg/audio"
	"github.com/MrWong99/whisperstream/pkg/provider/stt"
	"github.com/MrWong99/whisperstream/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// capturedRequest holds the multipart fields and decoded audio of one
// /inference request.
type capturedRequest struct {
	fields map[string]string
	wav    *audio.WAV
}

// newMockServer creates a test server that responds to POST /inference with
// body (marshalled as JSON). Each matched request is parsed and stored in
// *last; callCount is incremented when non-nil.
func newMockServer(t *testing.T, body any, callCount *atomic.Int32, last *atomic.Pointer[capturedRequest]) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		if last != nil {
			if err := r.ParseMultipartForm(10 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			cr := &capturedRequest{fields: map[string]string{}}
			for k, v := range r.MultipartForm.Value {
				cr.fields[k] = v[0]
			}
			f, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer f.Close()
			cr.wav, err = audio.DecodeWAV(f)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			last.Store(cr)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// speech returns n samples of a 440 Hz sine.
func speech(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	t.Parallel()
	c, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithSampleRate(16000),
		whisper.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Fatal("expected non-nil Client")
	}
}

// ---- request encoding -------------------------------------------------------

func TestTranscribe_SendsWAVAndFields(t *testing.T) {
	t.Parallel()

	var last atomic.Pointer[capturedRequest]
	srv := newMockServer(t, map[string]any{"text": "hello"}, nil, &last)

	c, _ := whisper.New(srv.URL, whisper.WithModel("base.en"))
	samples := speech(8000)
	res, err := c.Transcribe(context.Background(), samples, stt.Options{
		Language:  "de",
		Threads:   4,
		Translate: true,
		NoContext: true,
		AudioCtx:  512,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := res.Text(); got != "hello" {
		t.Errorf("Text() = %q, want %q", got, "hello")
	}

	cr := last.Load()
	if cr == nil {
		t.Fatal("server saw no request")
	}
	want := map[string]string{
		"response_format": "verbose_json",
		"language":        "de",
		"model":           "base.en",
		"translate":       "true",
		"no_timestamps":   "true",
		"no_context":      "true",
		"threads":         "4",
		"audio_ctx":       "512",
	}
	for k, v := range want {
		if cr.fields[k] != v {
			t.Errorf("field %q = %q, want %q", k, cr.fields[k], v)
		}
	}
	if _, ok := cr.fields["max_len"]; ok {
		t.Error("max_len sent although MaxTokens is zero")
	}
	if cr.wav.SampleRate != 16000 || len(cr.wav.Samples) != len(samples) {
		t.Errorf("wav = %d Hz, %d samples; want 16000 Hz, %d samples",
			cr.wav.SampleRate, len(cr.wav.Samples), len(samples))
	}
}

func TestTranscribe_EmptyLanguageOmitted(t *testing.T) {
	t.Parallel()

	var last atomic.Pointer[capturedRequest]
	srv := newMockServer(t, map[string]any{"text": ""}, nil, &last)
	c, _ := whisper.New(srv.URL)
	if _, err := c.Transcribe(context.Background(), speech(1600), stt.Options{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if _, ok := last.Load().fields["language"]; ok {
		t.Error("language field sent for empty language")
	}
}

// ---- response decoding ------------------------------------------------------

func TestTranscribe_VerboseSegments(t *testing.T) {
	t.Parallel()

	body := map[string]any{
		"text":     " one two",
		"language": "en",
		"segments": []map[string]any{
			{"text": " one", "start": 0.0, "end": 0.5},
			{"text": " two", "start": 0.5, "end": 1.25},
		},
	}
	srv := newMockServer(t, body, nil, nil)
	c, _ := whisper.New(srv.URL)

	tests := []struct {
		name     string
		opts     stt.Options
		segments int
		end      time.Duration
	}{
		{"segments with timestamps", stt.Options{EmitTimestamps: true}, 2, 1250 * time.Millisecond},
		{"segments without timestamps", stt.Options{}, 2, 0},
		{"single segment", stt.Options{SingleSegment: true, EmitTimestamps: true}, 1, 1250 * time.Millisecond},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := c.Transcribe(context.Background(), speech(1600), tc.opts)
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if len(res.Segments) != tc.segments {
				t.Fatalf("segments = %d, want %d", len(res.Segments), tc.segments)
			}
			if got := res.Segments[len(res.Segments)-1].End; got != tc.end {
				t.Errorf("last End = %v, want %v", got, tc.end)
			}
			if got := res.Text(); got != " one two" {
				t.Errorf("Text() = %q", got)
			}
			if res.Language != "en" {
				t.Errorf("Language = %q", res.Language)
			}
		})
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := whisper.New(srv.URL)
	_, err := c.Transcribe(context.Background(), speech(1600), stt.Options{})
	if err == nil {
		t.Fatal("expected error on HTTP 500")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("error %q should carry status and body", err)
	}
}

func TestTranscribe_BadJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c, _ := whisper.New(srv.URL)
	if _, err := c.Transcribe(context.Background(), speech(1600), stt.Options{}); err == nil {
		t.Fatal("expected JSON parse error")
	}
}

func TestTranscribe_CancelledContext_NoRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newMockServer(t, map[string]any{"text": "x"}, &calls, nil)
	c, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Transcribe(ctx, speech(1600), stt.Options{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server called %d times, want 0", n)
	}
}

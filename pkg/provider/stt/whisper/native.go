// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/whisperstream/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that Native satisfies stt.Transcriber.
var _ stt.Transcriber = (*Native)(nil)

// Native implements stt.Transcriber using whisper.cpp Go bindings (CGO),
// eliminating HTTP overhead entirely.
//
// The bindings keep all decoder state in the one whisper_context owned by the
// model; a [whisperlib.Context] only carries parameters. Process and the
// segment reads that follow it therefore run under a model-wide lock, and
// concurrent Transcribe calls queue for it. Run several Native instances for
// parallel inference.
type Native struct {
	model whisperlib.Model
	lock  chan struct{}

	// decode runs one inference while the lock is held.
	decode func(samples []float32, opts stt.Options) (stt.Result, error)
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the transcriber is no longer needed.
func NewNative(modelPath string) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	n := &Native{model: model, lock: make(chan struct{}, 1)}
	n.decode = n.process
	return n, nil
}

// Close releases the whisper model. It waits for a running inference.
func (n *Native) Close() error {
	if n.model == nil {
		return nil
	}
	n.lock <- struct{}{}
	defer func() { <-n.lock }()
	return n.model.Close()
}

// Transcribe runs whisper.cpp inference over samples, which must be 16 kHz
// mono. Waiting for the model honours ctx; the inference itself runs to
// completion once started.
func (n *Native) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (stt.Result, error) {
	select {
	case n.lock <- struct{}{}:
	case <-ctx.Done():
		return stt.Result{}, fmt.Errorf("whisper: %w", ctx.Err())
	}
	defer func() { <-n.lock }()
	return n.decode(samples, opts)
}

// process must be called with the lock held.
func (n *Native) process(samples []float32, opts stt.Options) (stt.Result, error) {
	wctx, err := n.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}
	wctx.SetTranslate(opts.Translate)
	if opts.Threads > 0 {
		wctx.SetThreads(uint(opts.Threads))
	}
	wctx.SetTokenTimestamps(opts.EmitTimestamps)
	if opts.MaxTokens > 0 {
		wctx.SetMaxTokensPerSegment(uint(opts.MaxTokens))
	}
	if opts.AudioCtx > 0 {
		wctx.SetAudioCtx(uint(opts.AudioCtx))
	}
	if opts.NoContext {
		wctx.SetMaxContext(0)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segs []stt.Segment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		seg := stt.Segment{Text: segment.Text}
		if opts.EmitTimestamps {
			seg.Start = segment.Start
			seg.End = segment.End
		}
		segs = append(segs, seg)
	}

	if opts.SingleSegment && len(segs) > 1 {
		segs = mergeSegments(segs)
	}
	return stt.Result{Segments: segs, Language: lang}, nil
}

// mergeSegments joins segs into one spanning segment.
func mergeSegments(segs []stt.Segment) []stt.Segment {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Text)
	}
	return []stt.Segment{{
		Text:  b.String(),
		Start: segs[0].Start,
		End:   segs[len(segs)-1].End,
	}}
}

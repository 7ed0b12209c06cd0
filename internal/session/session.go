// Package session runs segmenters for live audio streams.
//
// A [Session] owns one segmenter and one worker goroutine. Transport code
// pushes [Chunk] values from its read loop; the worker feeds them to the
// segmenter strictly in order, so Ingest is never called concurrently for the
// same stream. Non-empty transcriptions are persisted to the configured
// transcript store and published on [Session.Results].
//
// A [Manager] creates sessions, enforces the concurrent session limit and
// holds the process-wide noise floor when one is configured.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/whisperstream/internal/observe"
	"github.com/MrWong99/whisperstream/internal/transcript"
	"github.com/MrWong99/whisperstream/pkg/audio"
	"github.com/MrWong99/whisperstream/pkg/provider/stt"
	"github.com/MrWong99/whisperstream/pkg/segment"
)

// ErrClosed is returned when pushing to a closed session or opening a
// session on a closed manager.
var ErrClosed = errors.New("session: closed")

// Chunk is one unit of work for a session worker.
type Chunk struct {
	// Samples are mono float32 PCM at the session sample rate. May be empty
	// for a bare flush.
	Samples []float32

	// Flush requests an emission of everything accumulated so far.
	Flush bool

	// MinSilenceWindowMs overrides the session default when positive.
	MinSilenceWindowMs int

	// MaxSilenceMs overrides the session default when positive.
	MaxSilenceMs int
}

// Event is published on [Session.Results] for every non-empty transcription
// and every failed one.
type Event struct {
	SessionID string
	Seq       int
	Text      string
	Reason    segment.Reason
	Forced    bool
	Segments  []stt.Segment

	// AudioDuration is the length of the submitted span.
	AudioDuration time.Duration

	// Err is set when the transcription failed. Text is empty in that case.
	Err error
}

// Session is a single live stream. Push and Close are safe for concurrent
// use; Results must be drained by the caller until it is closed.
type Session struct {
	id      string
	seg     segment.Ingester
	store   transcript.Store
	metrics *observe.Metrics
	log     *slog.Logger
	clock   *audioClock // nil for wall-clock sessions

	sampleRate  int
	language    string
	stepSamples int // > 0 in step mode
	minWindowMs int
	maxSilence  int

	ctx     context.Context
	queue   chan Chunk
	results chan Event
	closing chan struct{}
	done    chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	onClose   func()

	// Worker-owned state.
	pending []float32
	seq     int
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SampleRate returns the rate chunks must be pushed at.
func (s *Session) SampleRate() int { return s.sampleRate }

// Results returns the channel transcription events are published on. It is
// closed once the session has been closed and its queue drained.
func (s *Session) Results() <-chan Event { return s.results }

// Done is closed when the worker has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Push enqueues c for the worker. It blocks while the queue is full and
// fails with [ErrClosed] once Close has been called.
func (s *Session) Push(ctx context.Context, c Chunk) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- c:
		return nil
	case <-s.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting chunks, waits for the worker to process everything
// already queued, and releases the segmenter. Results is closed before Close
// returns, so the caller must keep draining Results concurrently.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)

		// Blocked pushers leave through closing; once the write lock is held
		// no sender can touch the queue.
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()

		<-s.done
		err = s.seg.Close()
		if s.onClose != nil {
			s.onClose()
		}
		s.log.Info("session closed", "transcripts", s.seq)
	})
	return err
}

func (s *Session) run() {
	defer close(s.done)
	defer close(s.results)
	for c := range s.queue {
		s.handle(c)
	}
}

func (s *Session) handle(c Chunk) {
	opts := segment.IngestOptions{
		Flush:              c.Flush,
		MinSilenceWindowMs: s.minWindowMs,
		MaxSilenceMs:       s.maxSilence,
	}
	if c.MinSilenceWindowMs > 0 {
		opts.MinSilenceWindowMs = c.MinSilenceWindowMs
	}
	if c.MaxSilenceMs > 0 {
		opts.MaxSilenceMs = c.MaxSilenceMs
	}
	if s.metrics != nil && len(c.Samples) > 0 {
		s.metrics.RecordIngest(s.ctx, len(c.Samples))
	}
	if s.clock != nil {
		s.clock.advance(len(c.Samples))
	}

	samples := c.Samples
	if s.stepSamples > 0 {
		s.pending = append(s.pending, c.Samples...)
		if len(s.pending) < s.stepSamples && !c.Flush {
			return
		}
		samples, s.pending = s.pending, nil
		if len(samples) == 0 {
			return
		}
	}

	res, err := s.seg.Ingest(s.ctx, samples, opts)
	if res.Cleanup && s.metrics != nil {
		s.metrics.RecordCleanup(s.ctx)
	}
	if !res.Emitted && err == nil {
		return
	}

	audioDur := time.Duration(audio.DurationMs(len(res.Span), s.sampleRate)) * time.Millisecond
	if res.Emitted && s.metrics != nil {
		s.metrics.RecordEmission(s.ctx, string(res.Reason), audioDur.Seconds())
	}
	if err != nil {
		s.log.Warn("session: ingest failed", "reason", res.Reason, "err", err)
		s.publish(Event{SessionID: s.id, Reason: res.Reason, Forced: res.Forced, AudioDuration: audioDur, Err: err})
		return
	}
	if !res.HasText() {
		return
	}

	s.seq++
	ev := Event{
		SessionID:     s.id,
		Seq:           s.seq,
		Text:          res.Text,
		Reason:        res.Reason,
		Forced:        res.Forced,
		Segments:      res.Segments,
		AudioDuration: audioDur,
	}
	if s.store != nil {
		err := s.store.Append(s.ctx, transcript.Entry{
			SessionID:     s.id,
			Seq:           ev.Seq,
			Text:          ev.Text,
			Reason:        string(ev.Reason),
			Forced:        ev.Forced,
			Language:      s.language,
			AudioDuration: audioDur,
		})
		if err != nil {
			s.log.Error("session: persist transcript", "seq", ev.Seq, "err", err)
		}
	}
	s.publish(ev)
}

// publish delivers ev unless the session context is gone.
func (s *Session) publish(ev Event) {
	select {
	case s.results <- ev:
	case <-s.ctx.Done():
		s.log.Debug("session: dropping event after context end", "seq", ev.Seq)
	}
}

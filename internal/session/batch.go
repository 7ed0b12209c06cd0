package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrWong99/whisperstream/pkg/audio"
)

// DefaultBatchChunkMs is the chunk size Transcribe feeds recorded audio in.
const DefaultBatchChunkMs = 500

// Transcribe runs pre-recorded samples through a new session as if they had
// been streamed in chunkMs pieces, flushes the remainder and returns every
// published event in order. samples must already be at the session sample
// rate (see [Session.SampleRate] and [Manager.Settings]). Silence is timed
// by audio position, so long pauses in the recording are cleaned up exactly
// as they would be live.
func (m *Manager) Transcribe(ctx context.Context, samples []float32, opts Options, chunkMs int) ([]Event, error) {
	if chunkMs <= 0 {
		chunkMs = DefaultBatchChunkMs
	}
	opts.AudioClock = true
	s, err := m.Open(ctx, opts)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, 8)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for ev := range s.Results() {
			events = append(events, ev)
		}
	}()

	step := max(audio.SamplesForMs(chunkMs, s.SampleRate()), 1)
	var pushErr error
	for off := 0; off < len(samples) && pushErr == nil; off += step {
		end := min(off+step, len(samples))
		pushErr = s.Push(ctx, Chunk{Samples: samples[off:end]})
	}
	if pushErr == nil {
		pushErr = s.Push(ctx, Chunk{Flush: true})
	}

	closeErr := s.Close()
	<-collected
	if pushErr != nil {
		return events, fmt.Errorf("session: transcribe %s: %w", s.ID(), pushErr)
	}
	return events, closeErr
}

// audioClock reads start plus the duration of the samples pushed so far.
type audioClock struct {
	start   time.Time
	rate    atomic.Int64
	samples atomic.Int64
}

func (c *audioClock) advance(n int) { c.samples.Add(int64(n)) }

func (c *audioClock) now() time.Time {
	rate := c.rate.Load()
	if rate <= 0 {
		return c.start
	}
	return c.start.Add(time.Duration(c.samples.Load() * int64(time.Second) / rate))
}

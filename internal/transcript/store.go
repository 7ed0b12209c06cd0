// Package transcript persists the texts produced by streaming sessions.
//
// A [Store] is append-only: each emitted span with non-empty text becomes one
// [Entry], numbered per session in emission order. [MemStore] keeps entries
// in process memory; [PostgresStore] writes them to PostgreSQL and
// [RedisStore] to Redis lists.
package transcript

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidEntry is returned by Append for entries without a session ID.
var ErrInvalidEntry = errors.New("transcript: invalid entry")

// Entry is one transcribed span.
type Entry struct {
	// SessionID identifies the stream the span came from.
	SessionID string `json:"session_id"`

	// Seq is the 1-based emission index within the session. Assigned by the
	// store when zero.
	Seq int `json:"seq"`

	// Text is the transcription.
	Text string `json:"text"`

	// Reason is what triggered the emission (vad, flush, forced, step).
	Reason string `json:"reason"`

	// Forced reports whether the span was cut by the talking cap.
	Forced bool `json:"forced"`

	// Language is the language the span was transcribed in, if known.
	Language string `json:"language,omitempty"`

	// AudioDuration is the length of the submitted span.
	AudioDuration time.Duration `json:"audio_duration"`

	// CreatedAt is when the transcription completed. Assigned by the store
	// when zero.
	CreatedAt time.Time `json:"created_at"`
}

// ListOptions narrows [Store.List] results.
type ListOptions struct {
	// AfterSeq returns only entries with Seq greater than this value.
	AfterSeq int

	// Limit caps the number of returned entries. Zero means no limit.
	Limit int
}

// Store persists transcript entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append stores e. Entries of one session are appended by a single
	// goroutine, in order.
	Append(ctx context.Context, e Entry) error

	// List returns the entries of sessionID ordered by Seq. An unknown
	// session yields an empty, non-nil slice.
	List(ctx context.Context, sessionID string, opts ListOptions) ([]Entry, error)

	// Search returns entries whose text matches query, newest first.
	Search(ctx context.Context, query string, limit int) ([]Entry, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

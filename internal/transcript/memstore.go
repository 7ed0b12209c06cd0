package transcript

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. Entries are lost on restart.
type MemStore struct {
	limit int

	mu       sync.RWMutex
	sessions map[string][]Entry
	seq      map[string]int
	now      func() time.Time
}

// NewMemStore returns an empty MemStore keeping at most limit entries per
// session (oldest dropped first). A limit of zero keeps everything.
func NewMemStore(limit int) *MemStore {
	return &MemStore{
		limit:    limit,
		sessions: make(map[string][]Entry),
		seq:      make(map[string]int),
		now:      time.Now,
	}
}

// Append implements [Store].
func (m *MemStore) Append(_ context.Context, e Entry) error {
	if e.SessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidEntry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Seq == 0 {
		e.Seq = m.seq[e.SessionID] + 1
	}
	m.seq[e.SessionID] = max(m.seq[e.SessionID], e.Seq)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}

	entries := append(m.sessions[e.SessionID], e)
	if m.limit > 0 && len(entries) > m.limit {
		entries = slices.Clone(entries[len(entries)-m.limit:])
	}
	m.sessions[e.SessionID] = entries
	return nil
}

// List implements [Store].
func (m *MemStore) List(_ context.Context, sessionID string, opts ListOptions) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Entry{}
	for _, e := range m.sessions[sessionID] {
		if e.Seq <= opts.AfterSeq {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Search implements [Store] with substring and sounds-alike matching (see
// [query]).
func (m *MemStore) Search(_ context.Context, raw string, limit int) ([]Entry, error) {
	q := newQuery(raw)
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Entry{}
	if q.empty() {
		return out, nil
	}
	for _, entries := range m.sessions {
		for _, e := range entries {
			if q.matches(e.Text) {
				out = append(out, e)
			}
		}
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements [Store]. It always succeeds.
func (m *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store].
func (m *MemStore) Close() error { return nil }

package transcript_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/MrWong99/whisperstream/internal/transcript"
)

func newRedisStore(t *testing.T, opts ...transcript.RedisOption) (*transcript.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := transcript.NewRedisStore(context.Background(), "redis://"+mr.Addr(), opts...)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_AppendAndList(t *testing.T) {
	t.Parallel()
	s, _ := newRedisStore(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if err := s.Append(ctx, transcript.Entry{SessionID: "a", Text: text, Reason: "vad"}); err != nil {
			t.Fatalf("Append(%q): %v", text, err)
		}
	}
	if err := s.Append(ctx, transcript.Entry{SessionID: "b", Text: "other"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.List(ctx, "a", transcript.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, e := range got {
		if e.Seq != i+1 {
			t.Errorf("entry %d Seq = %d, want %d", i, e.Seq, i+1)
		}
		if e.CreatedAt.IsZero() {
			t.Errorf("entry %d has no CreatedAt", i)
		}
	}

	page, err := s.List(ctx, "a", transcript.ListOptions{AfterSeq: 1, Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 1 || page[0].Text != "two" {
		t.Errorf("page = %+v, want [two]", page)
	}

	empty, err := s.List(ctx, "missing", transcript.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("unknown session = %#v, want empty non-nil slice", empty)
	}
}

func TestRedisStore_ExplicitSeqAdvancesCounter(t *testing.T) {
	t.Parallel()
	s, _ := newRedisStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, transcript.Entry{SessionID: "a", Seq: 5, Text: "five"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, transcript.Entry{SessionID: "a", Text: "next"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := s.List(ctx, "a", transcript.ListOptions{AfterSeq: 5})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Seq != 6 {
		t.Errorf("got %+v, want one entry with Seq 6", got)
	}
}

func TestRedisStore_SessionLimit(t *testing.T) {
	t.Parallel()
	s, _ := newRedisStore(t, transcript.WithSessionLimit(2))
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		if err := s.Append(ctx, transcript.Entry{SessionID: "s", Text: text}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := s.List(ctx, "s", transcript.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Text != "b" || got[1].Seq != 3 {
		t.Errorf("got %+v, want [b c] with Seq 2..3", got)
	}
}

func TestRedisStore_Search(t *testing.T) {
	t.Parallel()
	s, _ := newRedisStore(t, transcript.WithRecentLimit(3), transcript.WithKeyPrefix("test:"))
	ctx := context.Background()

	for _, e := range []transcript.Entry{
		{SessionID: "a", Text: "Hello world"},
		{SessionID: "b", Text: "goodbye"},
		{SessionID: "a", Text: "hello again"},
		{SessionID: "c", Text: "HELLO there"},
	} {
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Search(ctx, "hello", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// The oldest entry fell out of the recent list.
	if len(got) != 2 || got[0].Text != "HELLO there" || got[1].Text != "hello again" {
		t.Errorf("Search = %+v, want newest first [HELLO there, hello again]", got)
	}

	limited, err := s.Search(ctx, "hello", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len = %d, want 1", len(limited))
	}

	none, err := s.Search(ctx, "  ", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("blank query returned %d entries", len(none))
	}
}

func TestRedisStore_Errors(t *testing.T) {
	t.Parallel()
	s, mr := newRedisStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, transcript.Entry{Text: "x"}); !errors.Is(err, transcript.ErrInvalidEntry) {
		t.Errorf("Append without session = %v, want ErrInvalidEntry", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}

	mr.Close()
	if err := s.Ping(ctx); err == nil {
		t.Error("Ping after server shutdown succeeded")
	}
}

func TestNewRedisStore_BadURL(t *testing.T) {
	t.Parallel()
	if _, err := transcript.NewRedisStore(context.Background(), "http://nope"); err == nil {
		t.Error("want error for non-redis URL")
	}
}

package transcript_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/whisperstream/internal/transcript"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if WHISPERSTREAM_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("WHISPERSTREAM_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WHISPERSTREAM_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a [transcript.PostgresStore] on a freshly dropped
// schema and closes it when the test finishes.
func newTestStore(t *testing.T) *transcript.PostgresStore {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS transcripts CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}
	pool.Close()

	store, err := transcript.NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// ─── Append / List ───────────────────────────────────────────────────────────

func TestPostgresStore_AppendAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, e := range []transcript.Entry{
		{SessionID: "s1", Text: "first", Reason: "vad", AudioDuration: 1500 * time.Millisecond},
		{SessionID: "s1", Text: "second", Reason: "forced", Forced: true},
		{SessionID: "s2", Text: "elsewhere", Reason: "flush"},
	} {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := store.List(ctx, "s1", transcript.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("seqs = %d, %d, want 1, 2", got[0].Seq, got[1].Seq)
	}
	if got[0].AudioDuration != 1500*time.Millisecond {
		t.Errorf("audio duration = %v, want 1.5s", got[0].AudioDuration)
	}
	if !got[1].Forced || got[1].Reason != "forced" {
		t.Errorf("second entry = %+v, want forced", got[1])
	}

	after, err := store.List(ctx, "s1", transcript.ListOptions{AfterSeq: 1})
	if err != nil {
		t.Fatalf("List after: %v", err)
	}
	if len(after) != 1 || after[0].Text != "second" {
		t.Errorf("after = %+v, want only second", after)
	}
}

func TestPostgresStore_ListUnknownSession(t *testing.T) {
	store := newTestStore(t)
	got, err := store.List(context.Background(), "nobody", transcript.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

// ─── Search ──────────────────────────────────────────────────────────────────

func TestPostgresStore_Search(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	_ = store.Append(ctx, transcript.Entry{SessionID: "a", Text: "the weather is nice", CreatedAt: base})
	_ = store.Append(ctx, transcript.Entry{SessionID: "b", Text: "weather report", CreatedAt: base.Add(time.Second)})
	_ = store.Append(ctx, transcript.Entry{SessionID: "c", Text: "unrelated", CreatedAt: base.Add(2 * time.Second)})

	got, err := store.Search(ctx, "weather", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].SessionID != "b" {
		t.Errorf("first = %s, want newest (b)", got[0].SessionID)
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

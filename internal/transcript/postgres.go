package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id             BIGSERIAL    PRIMARY KEY,
    session_id     TEXT         NOT NULL,
    seq            INTEGER      NOT NULL,
    text           TEXT         NOT NULL,
    reason         TEXT         NOT NULL DEFAULT '',
    forced         BOOLEAN      NOT NULL DEFAULT FALSE,
    language       TEXT         NOT NULL DEFAULT '',
    audio_ns       BIGINT       NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_transcripts_created_at
    ON transcripts (created_at);

CREATE INDEX IF NOT EXISTS idx_transcripts_fts
    ON transcripts USING GIN (to_tsvector('simple', text));
`

// Migrate creates the transcripts table and its indexes when they do not
// exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("transcript: migrate: %w", err)
	}
	return nil
}

// PostgresStore is a [Store] backed by a PostgreSQL table. All operations are
// safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn, verifies the connection,
// and runs [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Append implements [Store]. A zero Seq is replaced by the next number for
// the session, computed in the same statement.
func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	if e.SessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidEntry)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO transcripts
		    (session_id, seq, text, reason, forced, language, audio_ns, created_at)
		VALUES (
		    $1,
		    CASE WHEN $2::int > 0 THEN $2::int
		         ELSE (SELECT COALESCE(MAX(seq), 0) + 1 FROM transcripts WHERE session_id = $1)
		    END,
		    $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		e.SessionID,
		e.Seq,
		e.Text,
		e.Reason,
		e.Forced,
		e.Language,
		e.AudioDuration.Nanoseconds(),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("transcript store: append: %w", err)
	}
	return nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context, sessionID string, opts ListOptions) ([]Entry, error) {
	q, args := listQuery(sessionID, opts)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: list: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("transcript store: list: %w", err)
	}
	return entries, nil
}

// Search implements [Store] using PostgreSQL full-text search.
func (s *PostgresStore) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	q, args := searchQuery(query, limit)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: search: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("transcript store: search: %w", err)
	}
	return entries, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const selectColumns = `session_id, seq, text, reason, forced, language, audio_ns, created_at`

// listQuery builds the List statement. Placeholders are numbered in the
// order conditions are added.
func listQuery(sessionID string, opts ListOptions) (string, []any) {
	q := `SELECT ` + selectColumns + ` FROM transcripts WHERE session_id = $1`
	args := []any{sessionID}
	if opts.AfterSeq > 0 {
		args = append(args, opts.AfterSeq)
		q += fmt.Sprintf(" AND seq > $%d", len(args))
	}
	q += " ORDER BY seq ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return q, args
}

func searchQuery(query string, limit int) (string, []any) {
	q := `SELECT ` + selectColumns + ` FROM transcripts
		WHERE to_tsvector('simple', text) @@ plainto_tsquery('simple', $1)
		ORDER BY created_at DESC, session_id ASC`
	args := []any{query}
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return q, args
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e       Entry
			audioNs int64
		)
		err := row.Scan(&e.SessionID, &e.Seq, &e.Text, &e.Reason, &e.Forced, &e.Language, &audioNs, &e.CreatedAt)
		e.AudioDuration = time.Duration(audioNs)
		return e, err
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

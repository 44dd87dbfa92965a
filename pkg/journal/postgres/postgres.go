// Package postgres provides a PostgreSQL-backed [journal.Store].
//
// Entries live in a single decoded_messages table created by [Migrate].
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	e, _ := store.Append(ctx, journal.FromMessage(streamID, msg))
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/ggwave-go/pkg/journal"
)

// Compile-time assertion that Store satisfies journal.Store.
var _ journal.Store = (*Store)(nil)

const ddlDecodedMessages = `
CREATE TABLE IF NOT EXISTS decoded_messages (
    id           BIGSERIAL    PRIMARY KEY,
    stream_id    TEXT         NOT NULL,
    seq          BIGINT       NOT NULL,
    payload      BYTEA        NOT NULL,
    text         TEXT         NOT NULL DEFAULT '',
    received_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_decoded_messages_stream_id
    ON decoded_messages (stream_id, id);
`

// Migrate creates the journal table and its index. It is idempotent and
// safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlDecodedMessages); err != nil {
		return fmt.Errorf("journal postgres: migrate: %w", err)
	}
	return nil
}

// Store is a journal backed by a pgx connection pool. All methods are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool's connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Append implements [journal.Store].
func (s *Store) Append(ctx context.Context, e journal.Entry) (journal.Entry, error) {
	const q = `
		INSERT INTO decoded_messages (stream_id, seq, payload, text, received_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	payload := e.Payload
	if payload == nil {
		payload = []byte{}
	}
	err := s.pool.QueryRow(ctx, q,
		e.StreamID,
		int64(e.Seq),
		payload,
		e.Text,
		e.ReceivedAt,
	).Scan(&e.ID)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("journal postgres: append: %w", err)
	}
	return e, nil
}

// Recent implements [journal.Store].
func (s *Store) Recent(ctx context.Context, q journal.Query) ([]journal.Entry, error) {
	q = q.Normalize()

	// The inner query picks the newest rows; the outer one restores
	// chronological order.
	const sql = `
		SELECT id, stream_id, seq, payload, text, received_at
		FROM (
		    SELECT id, stream_id, seq, payload, text, received_at
		    FROM   decoded_messages
		    WHERE  ($1 = '' OR stream_id = $1)
		    ORDER  BY id DESC
		    LIMIT  $2
		) newest
		ORDER BY id`

	rows, err := s.pool.Query(ctx, sql, q.StreamID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.Entry, error) {
		var (
			e   journal.Entry
			seq int64
		)
		if err := row.Scan(&e.ID, &e.StreamID, &seq, &e.Payload, &e.Text, &e.ReceivedAt); err != nil {
			return journal.Entry{}, err
		}
		e.Seq = uint64(seq)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal postgres: scan rows: %w", err)
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return entries, nil
}

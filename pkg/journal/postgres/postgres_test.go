package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/ggwave-go/pkg/journal"
	"github.com/MrWong99/ggwave-go/pkg/journal/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if GGWAVE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("GGWAVE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GGWAVE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore drops the journal table and returns a freshly migrated store.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS decoded_messages"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_AppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Microsecond)

	streams := []string{journal.NewStreamID(), journal.NewStreamID()}
	for i := range 6 {
		e, err := store.Append(ctx, journal.Entry{
			StreamID:   streams[i%2],
			Seq:        uint64(i/2 + 1),
			Payload:    []byte{byte(i), 0xff},
			ReceivedAt: at.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if e.ID == 0 {
			t.Fatal("Append did not assign an ID")
		}
	}

	got, err := store.Recent(ctx, journal.Query{StreamID: streams[1], Limit: 2})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Seq != 2 || got[1].Seq != 3 || got[0].ID >= got[1].ID {
		t.Errorf("entries out of order: %+v", got)
	}
	if got[1].Payload[0] != 5 || !got[1].ReceivedAt.Equal(at.Add(5*time.Second)) {
		t.Errorf("last entry = %+v", got[1])
	}

	all, err := store.Recent(ctx, journal.Query{})
	if err != nil {
		t.Fatalf("Recent all: %v", err)
	}
	if len(all) != 6 {
		t.Errorf("got %d entries, want 6", len(all))
	}
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	pool, err := pgxpool.New(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}

package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/ggwave-go/pkg/journal"
)

// flakyStore wraps a MemStore and fails while down is set.
type flakyStore struct {
	*journal.MemStore
	down atomic.Bool
}

var errDown = errors.New("store unavailable")

func (s *flakyStore) Append(ctx context.Context, e journal.Entry) (journal.Entry, error) {
	if s.down.Load() {
		return journal.Entry{}, errDown
	}
	return s.MemStore.Append(ctx, e)
}

func (s *flakyStore) Recent(ctx context.Context, q journal.Query) ([]journal.Entry, error) {
	if s.down.Load() {
		return nil, errDown
	}
	return s.MemStore.Recent(ctx, q)
}

func TestJournal_FailsOverToFallback(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{MemStore: journal.NewMemStore(0)}
	fallback := journal.NewMemStore(0)
	j := NewJournal("postgres", primary, CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Hour,
		Logger:       quietLogger(),
	})
	j.AddFallback("memory", fallback)

	if _, err := j.Append(ctx, journal.Entry{StreamID: "s", Seq: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if primary.Len() != 1 || fallback.Len() != 0 {
		t.Fatalf("primary=%d fallback=%d", primary.Len(), fallback.Len())
	}

	primary.down.Store(true)
	for seq := uint64(2); seq <= 3; seq++ {
		if _, err := j.Append(ctx, journal.Entry{StreamID: "s", Seq: seq}); err != nil {
			t.Fatalf("Append %d: %v", seq, err)
		}
	}
	if fallback.Len() != 2 {
		t.Errorf("fallback holds %d entries, want 2", fallback.Len())
	}
	if s := j.States(); s["postgres"] != StateOpen {
		t.Errorf("primary breaker = %v, want open", s["postgres"])
	}

	got, err := j.Recent(ctx, journal.Query{StreamID: "s"})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 2 {
		t.Errorf("Recent = %+v, want the fallback's entries", got)
	}
}

func TestJournal_AllStoresDown(t *testing.T) {
	primary := &flakyStore{MemStore: journal.NewMemStore(0)}
	primary.down.Store(true)
	j := NewJournal("postgres", primary, CircuitBreakerConfig{Logger: quietLogger()})

	_, err := j.Append(context.Background(), journal.Entry{StreamID: "s", Seq: 1})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errDown) {
		t.Errorf("err = %v", err)
	}
}

package resilience

import (
	"context"

	"github.com/MrWong99/ggwave-go/pkg/journal"
)

// Journal is a [journal.Store] that writes to the first healthy member of a
// [Group]. Reads follow the same order, so entries written to a fallback
// while the primary was down are only listed while the fallback serves
// reads.
type Journal struct {
	group *Group[journal.Store]
}

var _ journal.Store = (*Journal)(nil)

// NewJournal creates a Journal with primary as the preferred store.
func NewJournal(primaryName string, primary journal.Store, cfg CircuitBreakerConfig) *Journal {
	return &Journal{group: NewGroup(primaryName, primary, cfg)}
}

// AddFallback registers a store used while the ones before it fail.
func (j *Journal) AddFallback(name string, s journal.Store) {
	j.group.Add(name, s)
}

// States reports each store's breaker state by name.
func (j *Journal) States() map[string]State { return j.group.States() }

func (j *Journal) Append(ctx context.Context, e journal.Entry) (journal.Entry, error) {
	return Do(ctx, j.group, func(ctx context.Context, s journal.Store) (journal.Entry, error) {
		return s.Append(ctx, e)
	})
}

func (j *Journal) Recent(ctx context.Context, q journal.Query) ([]journal.Entry, error) {
	return Do(ctx, j.group, func(ctx context.Context, s journal.Store) ([]journal.Entry, error) {
		return s.Recent(ctx, q)
	})
}

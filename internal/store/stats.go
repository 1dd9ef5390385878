package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider exposes document counts per collection for diagnostics
// without leaking MongoDB internals to callers.
type StatsProvider struct {
	collections map[string]countCollection
}

// NewStatsProvider constructs a StatsProvider over the named collections.
func NewStatsProvider(collections map[string]countCollection) *StatsProvider {
	return &StatsProvider{collections: collections}
}

// Counts returns the number of documents in each collection.
func (p *StatsProvider) Counts(ctx context.Context) (map[string]int64, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if p == nil || len(p.collections) == 0 {
		return nil, errors.New("stats provider is not initialized")
	}

	names := make([]string, 0, len(p.collections))
	for name := range p.collections {
		names = append(names, name)
	}
	sort.Strings(names)

	counts := make(map[string]int64, len(names))
	for _, name := range names {
		count, err := p.collections[name].CountDocuments(ctx, bson.D{})
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		counts[name] = count
	}

	return counts, nil
}

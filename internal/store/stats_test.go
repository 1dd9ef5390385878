package store

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestStatsProviderCountsEveryCollection(t *testing.T) {
	links := &stubCountCollection{count: 12}
	leads := &stubCountCollection{count: 5}

	provider := NewStatsProvider(map[string]countCollection{
		CollectionInviteLinks: links,
		CollectionLeads:       leads,
	})

	counts, err := provider.Counts(context.Background())
	if err != nil {
		t.Fatalf("expected counts to succeed, got error: %v", err)
	}
	if counts[CollectionInviteLinks] != 12 || counts[CollectionLeads] != 5 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if links.calls != 1 || leads.calls != 1 {
		t.Fatalf("expected one count per collection, got links=%d leads=%d", links.calls, leads.calls)
	}
}

func TestStatsProviderRequiresContext(t *testing.T) {
	provider := NewStatsProvider(map[string]countCollection{CollectionLeads: &stubCountCollection{}})

	if _, err := provider.Counts(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestStatsProviderRequiresInitialization(t *testing.T) {
	var provider *StatsProvider

	if _, err := provider.Counts(context.Background()); err == nil {
		t.Fatalf("expected error for nil provider")
	}
}

func TestStatsProviderPropagatesErrors(t *testing.T) {
	expectedErr := errors.New("count failed")
	provider := NewStatsProvider(map[string]countCollection{
		CollectionLeads: &stubCountCollection{err: expectedErr},
	})

	if _, err := provider.Counts(context.Background()); !errors.Is(err, expectedErr) {
		t.Fatalf("expected wrapped count error, got %v", err)
	}
}

type stubCountCollection struct {
	count int64
	err   error
	calls int
}

func (s *stubCountCollection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	s.calls++
	return s.count, s.err
}

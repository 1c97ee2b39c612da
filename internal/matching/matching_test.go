package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/cashxhq/cashx/internal/cache"
	"github.com/cashxhq/cashx/internal/routing"
	"github.com/cashxhq/cashx/internal/users"
)

// fakeOracle returns canned ETAs per agent position latitude.
type fakeOracle struct {
	etas map[float64]routing.ETA
	errs map[float64]error
}

func (f *fakeOracle) Route(_ context.Context, from, _ routing.Coordinates) (routing.ETA, error) {
	if err, ok := f.errs[from.Latitude]; ok {
		return routing.ETA{}, err
	}
	return f.etas[from.Latitude], nil
}

func agent(id string, lat float64) *users.User {
	return &users.User{ID: id, FirstName: id, IsAgent: true, Latitude: lat, Longitude: 3.3}
}

func TestFeeFor(t *testing.T) {
	tests := []struct {
		amount  int64
		want    int64
		wantErr bool
	}{
		{4_999_99, 0, true},
		{5_000_00, 200_00, false},
		{5_000_01, 250_00, false},
		{20_000_00, 250_00, false},
		{20_000_01, 300_00, false},
		{50_000_00, 300_00, false},
		{50_000_01, 0, true},
	}
	for _, tt := range tests {
		fee, err := FeeFor(tt.amount)
		if tt.wantErr {
			if !errors.Is(err, ErrAmountOutOfRange) {
				t.Errorf("FeeFor(%d): expected ErrAmountOutOfRange, got %v", tt.amount, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("FeeFor(%d) failed: %v", tt.amount, err)
			continue
		}
		if fee != tt.want {
			t.Errorf("FeeFor(%d) = %d, want %d", tt.amount, fee, tt.want)
		}
	}
}

func TestMatchExcludesOutOfRadius(t *testing.T) {
	oracle := &fakeOracle{etas: map[float64]routing.ETA{
		1: {DistanceMeters: 5_000, DurationSeconds: 600},
		2: {DistanceMeters: 150_000, DurationSeconds: 7200},
	}}
	m := NewMatcher(oracle, nil, 100_000)

	matches := m.Match(context.Background(), routing.Coordinates{}, []*users.User{
		agent("near", 1), agent("far", 2),
	})
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Agent.ID != "near" {
		t.Errorf("unexpected match: %s", matches[0].Agent.ID)
	}
}

func TestMatchExcludesOracleFailures(t *testing.T) {
	oracle := &fakeOracle{
		etas: map[float64]routing.ETA{1: {DistanceMeters: 1000, DurationSeconds: 120}},
		errs: map[float64]error{2: routing.ErrNoRoute},
	}
	m := NewMatcher(oracle, nil, 100_000)

	matches := m.Match(context.Background(), routing.Coordinates{}, []*users.User{
		agent("ok", 1), agent("broken", 2),
	})
	if len(matches) != 1 || matches[0].Agent.ID != "ok" {
		t.Errorf("expected only the routable agent, got %v", matches)
	}
}

func TestMatchPreservesPoolOrder(t *testing.T) {
	oracle := &fakeOracle{etas: map[float64]routing.ETA{
		1: {DistanceMeters: 9000},
		2: {DistanceMeters: 100},
		3: {DistanceMeters: 4000},
	}}
	m := NewMatcher(oracle, nil, 100_000)

	matches := m.Match(context.Background(), routing.Coordinates{}, []*users.User{
		agent("a", 1), agent("b", 2), agent("c", 3),
	})
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	// Pool iteration order, not distance order.
	for i, want := range []string{"a", "b", "c"} {
		if matches[i].Agent.ID != want {
			t.Errorf("position %d: got %s, want %s", i, matches[i].Agent.ID, want)
		}
	}
}

// test fixtures for the search service

type allOnline struct{ ids []string }

func (a allOnline) OnlineUserIDs(context.Context) ([]string, error) { return a.ids, nil }

type busySet map[string]bool

func (b busySet) HasActiveTransaction(_ context.Context, userID string) (bool, error) {
	return b[userID], nil
}

func newSearchService(t *testing.T, oracle routing.Oracle, online []string, busy busySet, pool ...*users.User) (*Service, cache.Store) {
	t.Helper()
	store := users.NewMemoryStore()
	for _, u := range pool {
		if err := store.Create(context.Background(), u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	cacheStore := cache.NewMemoryStore()
	t.Cleanup(cacheStore.Close)
	matcher := NewMatcher(oracle, nil, 100_000)
	return NewService(matcher, users.NewService(store), allOnline{online}, busy, cacheStore), cacheStore
}

func TestSearchCachesResult(t *testing.T) {
	oracle := &fakeOracle{etas: map[float64]routing.ETA{1: {DistanceMeters: 500, DurationSeconds: 60}}}
	svc, _ := newSearchService(t, oracle, []string{"agent-1"}, nil,
		&users.User{ID: "agent-1", PhoneNumber: "1", IsAgent: true, Latitude: 1})

	result, err := svc.Search(context.Background(), "cust-1", routing.Coordinates{Latitude: 6.5, Longitude: 3.3}, 10_000_00)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if result.FeeKobo != 250_00 {
		t.Errorf("unexpected fee: %d", result.FeeKobo)
	}
	if !result.HasCandidate("agent-1") {
		t.Error("expected agent-1 in candidates")
	}

	cached, err := svc.Lookup(context.Background(), result.SearchID)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if cached.AmountKobo != 10_000_00 || len(cached.Candidates) != 1 {
		t.Errorf("cached result mismatch: %+v", cached)
	}
}

func TestSearchExcludesRequesterAndOffline(t *testing.T) {
	oracle := &fakeOracle{etas: map[float64]routing.ETA{
		1: {DistanceMeters: 500}, 2: {DistanceMeters: 500}, 3: {DistanceMeters: 500},
	}}
	svc, _ := newSearchService(t, oracle, []string{"self", "online-agent"}, nil,
		&users.User{ID: "self", PhoneNumber: "1", IsAgent: true, Latitude: 1},
		&users.User{ID: "online-agent", PhoneNumber: "2", IsAgent: true, Latitude: 2},
		&users.User{ID: "offline-agent", PhoneNumber: "3", IsAgent: true, Latitude: 3},
	)

	result, err := svc.Search(context.Background(), "self", routing.Coordinates{}, 10_000_00)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].Agent.ID != "online-agent" {
		t.Errorf("unexpected candidates: %+v", result.Candidates)
	}
}

func TestSearchExcludesBusyAgents(t *testing.T) {
	oracle := &fakeOracle{etas: map[float64]routing.ETA{
		1: {DistanceMeters: 500}, 2: {DistanceMeters: 500},
	}}
	svc, _ := newSearchService(t, oracle, []string{"free", "busy"}, busySet{"busy": true},
		&users.User{ID: "free", PhoneNumber: "1", IsAgent: true, Latitude: 1},
		&users.User{ID: "busy", PhoneNumber: "2", IsAgent: true, Latitude: 2},
	)

	result, err := svc.Search(context.Background(), "cust-1", routing.Coordinates{}, 10_000_00)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0].Agent.ID != "free" {
		t.Errorf("unexpected candidates: %+v", result.Candidates)
	}
}

func TestSearchNoAgents(t *testing.T) {
	oracle := &fakeOracle{etas: map[float64]routing.ETA{}}
	svc, _ := newSearchService(t, oracle, nil, nil)

	_, err := svc.Search(context.Background(), "cust-1", routing.Coordinates{}, 10_000_00)
	if !errors.Is(err, ErrNoAgents) {
		t.Errorf("expected ErrNoAgents, got %v", err)
	}
}

func TestLookupExpired(t *testing.T) {
	oracle := &fakeOracle{}
	svc, _ := newSearchService(t, oracle, nil, nil)

	_, err := svc.Lookup(context.Background(), "srch_missing")
	if !errors.Is(err, ErrSearchNotFound) {
		t.Errorf("expected ErrSearchNotFound, got %v", err)
	}
}

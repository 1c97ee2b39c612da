package matching

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cashxhq/cashx/internal/cache"
	"github.com/cashxhq/cashx/internal/idgen"
	"github.com/cashxhq/cashx/internal/routing"
	"github.com/cashxhq/cashx/internal/users"
)

// SearchTTL bounds how long a cached search stays dispatchable.
const SearchTTL = 24 * time.Hour

// SearchKey is the cache key for a search result.
func SearchKey(searchID string) string {
	return "request:" + searchID
}

// SearchResult is the cached outcome of a proximity search. A dispatch
// later snapshots this payload onto the exchange request.
type SearchResult struct {
	SearchID    string              `json:"search_id"`
	CustomerID  string              `json:"customer_id"`
	AmountKobo  int64               `json:"amount"`
	FeeKobo     int64               `json:"fee"`
	Destination routing.Coordinates `json:"destination"`
	Candidates  []AgentMatch        `json:"candidates"`
	CreatedAt   time.Time           `json:"created_at"`
}

// HasCandidate reports whether an agent appears in the candidate list.
func (r *SearchResult) HasCandidate(agentID string) bool {
	for _, m := range r.Candidates {
		if m.Agent.ID == agentID {
			return true
		}
	}
	return false
}

// BusyChecker reports whether a user is party to an open transaction.
type BusyChecker interface {
	HasActiveTransaction(ctx context.Context, userID string) (bool, error)
}

// PresenceSource supplies the set of currently online user IDs.
type PresenceSource interface {
	OnlineUserIDs(ctx context.Context) ([]string, error)
}

// Service runs proximity searches and caches their results.
type Service struct {
	matcher  *Matcher
	users    *users.Service
	presence PresenceSource
	busy     BusyChecker
	cache    cache.Store
}

// NewService creates a search service.
func NewService(matcher *Matcher, userSvc *users.Service, presence PresenceSource, busy BusyChecker, cacheStore cache.Store) *Service {
	return &Service{
		matcher:  matcher,
		users:    userSvc,
		presence: presence,
		busy:     busy,
		cache:    cacheStore,
	}
}

// Search finds reachable agents for a customer's destination and amount,
// caches the result under a fresh search ID, and returns it.
// The requester and any user already in an open transaction are excluded
// from the pool before the oracle is consulted.
func (s *Service) Search(ctx context.Context, customerID string, dest routing.Coordinates, amountKobo int64) (*SearchResult, error) {
	fee, err := FeeFor(amountKobo)
	if err != nil {
		return nil, err
	}

	pool, err := s.candidatePool(ctx, customerID)
	if err != nil {
		return nil, err
	}

	matches := s.matcher.Match(ctx, dest, pool)
	if len(matches) == 0 {
		return nil, ErrNoAgents
	}

	result := &SearchResult{
		SearchID:    idgen.WithPrefix("srch_"),
		CustomerID:  customerID,
		AmountKobo:  amountKobo,
		FeeKobo:     fee,
		Destination: dest,
		Candidates:  matches,
		CreatedAt:   time.Now(),
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, SearchKey(result.SearchID), string(payload), SearchTTL); err != nil {
		return nil, err
	}
	return result, nil
}

// Lookup loads a cached search result by ID.
func (s *Service) Lookup(ctx context.Context, searchID string) (*SearchResult, error) {
	payload, err := s.cache.Get(ctx, SearchKey(searchID))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrSearchNotFound
	}
	if err != nil {
		return nil, err
	}
	var result SearchResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// candidatePool is the online agents minus the requester and anyone
// already mid-exchange.
func (s *Service) candidatePool(ctx context.Context, customerID string) ([]*users.User, error) {
	agents, err := s.users.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	onlineIDs, err := s.presence.OnlineUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	online := make(map[string]bool, len(onlineIDs))
	for _, id := range onlineIDs {
		online[id] = true
	}

	var pool []*users.User
	for _, agent := range agents {
		if agent.ID == customerID || !online[agent.ID] {
			continue
		}
		if s.busy != nil {
			busy, err := s.busy.HasActiveTransaction(ctx, agent.ID)
			if err != nil {
				return nil, err
			}
			if busy {
				continue
			}
		}
		pool = append(pool, agent)
	}
	return pool, nil
}

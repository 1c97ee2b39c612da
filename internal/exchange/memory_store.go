package exchange

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store implementation for development and testing.
type MemoryStore struct {
	mu           sync.RWMutex
	requests     map[string]*Request
	transactions map[string]*Transaction
	ratings      map[string]*Rating
}

// NewMemoryStore creates an in-memory exchange store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:     make(map[string]*Request),
		transactions: make(map[string]*Transaction),
		ratings:      make(map[string]*Rating),
	}
}

func (s *MemoryStore) CreateRequest(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.AgentID == r.AgentID && existing.SearchID == r.SearchID {
			return ErrDuplicateDispatch
		}
	}
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetRequestByAgentAndSearch(_ context.Context, agentID, searchID string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.requests {
		if r.AgentID == agentID && r.SearchID == searchID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRequestNotFound
}

func (s *MemoryStore) UpdateRequest(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; !ok {
		return ErrRequestNotFound
	}
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemoryStore) ListRequestsByAgent(_ context.Context, agentID string, status RequestStatus) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Request
	for _, r := range s.requests {
		if r.AgentID == agentID && (status == "" || r.Status == status) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateTransaction(_ context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.transactions {
		if existing.CustomerID == t.CustomerID && existing.Status == TransactionInProgress {
			return ErrCustomerBusy
		}
	}
	cp := *t
	s.transactions[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetTransactionByRequest(_ context.Context, requestID string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.transactions {
		if t.RequestID == requestID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (s *MemoryStore) GetActiveTransactionForUser(_ context.Context, userID string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.transactions {
		if t.Status == TransactionInProgress && (t.CustomerID == userID || t.AgentID == userID) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (s *MemoryStore) UpdateTransaction(_ context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[t.ID]; !ok {
		return ErrTransactionNotFound
	}
	cp := *t
	s.transactions[t.ID] = &cp
	return nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID string, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Transaction
	for _, t := range s.transactions {
		if t.CustomerID == userID || t.AgentID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateRating(_ context.Context, r *Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ratings {
		if existing.RaterID == r.RaterID && existing.TransactionID == r.TransactionID {
			return ErrAlreadyRated
		}
	}
	cp := *r
	s.ratings[r.ID] = &cp
	return nil
}

func (s *MemoryStore) RatingStats(_ context.Context, ratedID string) (float64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum, count int
	for _, r := range s.ratings {
		if r.RatedID == ratedID {
			sum += r.Score
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(count), count, nil
}

func (s *MemoryStore) CountCompletedAsAgent(_ context.Context, agentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, t := range s.transactions {
		if t.AgentID == agentID && t.Status == TransactionCompleted {
			count++
		}
	}
	return count, nil
}

var _ Store = (*MemoryStore)(nil)

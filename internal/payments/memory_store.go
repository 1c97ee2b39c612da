package payments

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store implementation for development and testing.
type MemoryStore struct {
	mu            sync.RWMutex
	payments      map[string]*Payment
	byReference   map[string]string
	byTransaction map[string]string
}

// NewMemoryStore creates an in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:      make(map[string]*Payment),
		byReference:   make(map[string]string),
		byTransaction: make(map[string]string),
	}
}

func (s *MemoryStore) CreatePayment(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byTransaction[p.TransactionID]; exists {
		return ErrAlreadyInitiated
	}
	if _, exists := s.byReference[p.TransactionReference]; exists {
		return ErrAlreadyInitiated
	}
	cp := *p
	s.payments[p.ID] = &cp
	s.byReference[p.TransactionReference] = p.ID
	s.byTransaction[p.TransactionID] = p.ID
	return nil
}

func (s *MemoryStore) GetPayment(_ context.Context, id string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPaymentByReference(_ context.Context, reference string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byReference[reference]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *s.payments[id]
	return &cp, nil
}

func (s *MemoryStore) GetPaymentByTransaction(_ context.Context, transactionID string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTransaction[transactionID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *s.payments[id]
	return &cp, nil
}

func (s *MemoryStore) UpdatePayment(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ListPaymentsByCustomer(_ context.Context, customerID string, limit int) ([]*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Payment
	for _, p := range s.payments {
		if p.CustomerID == customerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)

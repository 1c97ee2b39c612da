package users

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store implementation for development and testing.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*User
	byPhone map[string]string
}

// NewMemoryStore creates an in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byPhone: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byPhone[user.PhoneNumber]; exists {
		return ErrPhoneTaken
	}
	u := *user
	s.users[user.ID] = &u
	s.byPhone[user.PhoneNumber] = user.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *user
	return &u, nil
}

func (s *MemoryStore) GetByPhone(_ context.Context, phone string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPhone[phone]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *s.users[id]
	return &u, nil
}

func (s *MemoryStore) Update(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return ErrUserNotFound
	}
	u := *user
	s.users[user.ID] = &u
	return nil
}

func (s *MemoryStore) ListAgents(_ context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*User
	for _, user := range s.users {
		if user.IsAgent {
			u := *user
			out = append(out, &u)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)

package cache

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation for development and testing.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	stopJanitor chan struct{}
	stopOnce    sync.Once
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an in-memory store with a background janitor
// that evicts expired keys once a minute.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries:     make(map[string]memoryEntry),
		stopJanitor: make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Close stops the janitor goroutine.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stopJanitor) })
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopJanitor:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, e := range s.entries {
				if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Set writes a value with a TTL.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// Get reads a value, honoring expiry lazily.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Delete removes keys.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	s.mu.Unlock()
	return nil
}

// Keys returns live keys matching a glob pattern.
func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		if matchPattern(pattern, k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// matchPattern applies a Redis-style glob. Keys contain ':' separators
// which path.Match would treat literally, so '*' is made to cross them
// by matching against a flattened copy.
func matchPattern(pattern, key string) bool {
	if pattern == "*" || pattern == key {
		return true
	}
	// path.Match's '*' does not cross '/', and our keys have no '/',
	// so replace ':' in both to keep '*' from crossing segment bounds
	// only when the pattern itself segments on ':'.
	if !strings.Contains(pattern, "*") {
		return pattern == key
	}
	ok, err := path.Match(strings.ReplaceAll(pattern, ":", "/"), strings.ReplaceAll(key, ":", "/"))
	return err == nil && ok
}

var _ Store = (*MemoryStore)(nil)

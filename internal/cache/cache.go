// Package cache provides the ephemeral keyed state store used for
// transaction progress flags, cached searches, and presence markers.
//
// Values are strings; callers encode structured values as JSON. Keys
// expire after a TTL and may also be deleted explicitly. Pattern
// queries use Redis glob syntax ('*' wildcard).
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// DefaultTTL is the lifetime of transaction-scoped ephemeral keys (24h).
const DefaultTTL = 24 * time.Hour

// Store is the ephemeral state store interface.
type Store interface {
	// Set writes a value with a TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get reads a value. Returns ErrNotFound if absent or expired.
	Get(ctx context.Context, key string) (string, error)
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Keys returns keys matching a glob pattern (e.g. "request:*").
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Exists reports whether a key is present.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Package presence tracks which users are reachable for dispatch.
//
// Every authenticated request refreshes a last-seen marker in the
// ephemeral store. A user counts as online while the marker is both
// unexpired and recent enough, so agents that stop polling fall out
// of the candidate pool without any explicit sign-off.
package presence

import (
	"context"
	"strconv"
	"strings"
	"time"
)

const (
	keyPrefix = "last_seen:"

	// MarkerTTL is how long a last-seen marker lives in the store.
	MarkerTTL = 4000 * time.Second
	// OnlineWindow is how recent a marker must be to count as online.
	OnlineWindow = 5000 * time.Second
)

// Store is the subset of the ephemeral store presence needs.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Tracker records and queries user liveness.
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker creates a presence tracker backed by the given store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Touch refreshes the last-seen marker for a user.
func (t *Tracker) Touch(ctx context.Context, userID string) error {
	ts := strconv.FormatInt(t.now().Unix(), 10)
	return t.store.Set(ctx, keyPrefix+userID, ts, MarkerTTL)
}

// LastSeen returns when the user was last seen, or ok=false if never
// or the marker expired.
func (t *Tracker) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	val, err := t.store.Get(ctx, keyPrefix+userID)
	if err != nil {
		return time.Time{}, false, nil
	}
	secs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(secs, 0), true, nil
}

// OnlineUserIDs returns the IDs of all users seen within the online window.
func (t *Tracker) OnlineUserIDs(ctx context.Context) ([]string, error) {
	keys, err := t.store.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}
	cutoff := t.now().Add(-OnlineWindow)
	var out []string
	for _, key := range keys {
		val, err := t.store.Get(ctx, key)
		if err != nil {
			continue // expired between Keys and Get
		}
		secs, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		if time.Unix(secs, 0).Before(cutoff) {
			continue
		}
		out = append(out, strings.TrimPrefix(key, keyPrefix))
	}
	return out, nil
}

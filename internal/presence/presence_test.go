package presence

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/cashxhq/cashx/internal/cache"
)

func TestTouchAndLastSeen(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()
	tracker := NewTracker(store)
	ctx := context.Background()

	if err := tracker.Touch(ctx, "user-1"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	seen, ok, err := tracker.LastSeen(ctx, "user-1")
	if err != nil || !ok {
		t.Fatalf("expected marker, got ok=%v err=%v", ok, err)
	}
	if time.Since(seen) > time.Minute {
		t.Errorf("last seen too old: %v", seen)
	}
}

func TestLastSeenMissing(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()
	tracker := NewTracker(store)

	_, ok, err := tracker.LastSeen(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("LastSeen failed: %v", err)
	}
	if ok {
		t.Error("expected no marker for unseen user")
	}
}

func TestOnlineUserIDs(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()
	tracker := NewTracker(store)
	ctx := context.Background()

	tracker.Touch(ctx, "user-1")
	tracker.Touch(ctx, "user-2")

	online, err := tracker.OnlineUserIDs(ctx)
	if err != nil {
		t.Fatalf("OnlineUserIDs failed: %v", err)
	}
	sort.Strings(online)
	if len(online) != 2 || online[0] != "user-1" || online[1] != "user-2" {
		t.Errorf("unexpected online set: %v", online)
	}
}

func TestOnlineUserIDsExcludesStale(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()
	tracker := NewTracker(store)
	ctx := context.Background()

	// Marker written in the past, beyond the online window.
	tracker.now = func() time.Time { return time.Now().Add(-OnlineWindow - time.Hour) }
	tracker.Touch(ctx, "stale-user")

	tracker.now = time.Now
	tracker.Touch(ctx, "fresh-user")

	online, err := tracker.OnlineUserIDs(ctx)
	if err != nil {
		t.Fatalf("OnlineUserIDs failed: %v", err)
	}
	if len(online) != 1 || online[0] != "fresh-user" {
		t.Errorf("unexpected online set: %v", online)
	}
}

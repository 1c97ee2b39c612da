package health

import (
	"context"
	"testing"

	"github.com/cashxhq/cashx/internal/cache"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register(func(_ context.Context) Status {
		return Status{Name: "routing", Healthy: true}
	})
	r.Register(func(_ context.Context) Status {
		return Status{Name: "cache", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if statuses[1].Detail != "connection refused" {
		t.Fatalf("expected detail 'connection refused', got %q", statuses[1].Detail)
	}
}

func TestCacheChecker(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()

	status := Cache(store)(context.Background())
	if !status.Healthy {
		t.Fatalf("memory cache reported unhealthy: %s", status.Detail)
	}
	if status.Name != "cache" {
		t.Errorf("unexpected name %q", status.Name)
	}
}

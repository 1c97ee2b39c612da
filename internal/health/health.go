// Package health provides a registry of named subsystem health checkers.
package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/cashxhq/cashx/internal/cache"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	checkers []Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a health checker. Registration happens during server
// construction only, so no locking is needed for CheckAll.
func (r *Registry) Register(check Checker) {
	r.checkers = append(r.checkers, check)
}

// CheckAll runs all registered checkers and returns the aggregate
// health status plus individual subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	healthy = true
	statuses = make([]Status, len(r.checkers))
	for i, check := range r.checkers {
		statuses[i] = check(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

// Database pings the SQL pool.
func Database(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return Status{Name: "database", Healthy: true}
	}
}

// Cache round-trips a probe key through the ephemeral store.
func Cache(store cache.Store) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := store.Set(ctx, "health:probe", "ok", time.Minute); err != nil {
			return Status{Name: "cache", Healthy: false, Detail: err.Error()}
		}
		if _, err := store.Get(ctx, "health:probe"); err != nil {
			return Status{Name: "cache", Healthy: false, Detail: err.Error()}
		}
		return Status{Name: "cache", Healthy: true}
	}
}

// Package matching finds nearby agents for a cash request.
//
// A search walks the online agent pool, asks the routing oracle for the
// road distance from each agent to the customer's destination, and keeps
// the agents inside the search radius. Oracle failures and far agents
// are dropped silently; only an empty result is user visible.
package matching

import (
	"context"
	"errors"
	"time"

	"github.com/cashxhq/cashx/internal/metrics"
	"github.com/cashxhq/cashx/internal/routing"
	"github.com/cashxhq/cashx/internal/users"
)

var (
	// ErrNoAgents is returned when no reachable agent exists.
	ErrNoAgents = errors.New("no agents available")
	// ErrAmountOutOfRange is returned for amounts outside the allowed band.
	ErrAmountOutOfRange = errors.New("amount outside the allowed range")
	// ErrSearchNotFound is returned when a cached search expired or never existed.
	ErrSearchNotFound = errors.New("search not found or expired")
)

// Exchange amount band and fee schedule, all in kobo.
const (
	MinAmountKobo = 5_000_00
	MaxAmountKobo = 50_000_00

	feeTier1Kobo = 200_00 // up to the minimum amount
	feeTier2Kobo = 250_00 // up to 20,000.00
	feeTier3Kobo = 300_00 // up to the maximum amount

	feeTier2UpperKobo = 20_000_00
)

// FeeFor returns the service fee for an exchange amount.
func FeeFor(amountKobo int64) (int64, error) {
	if amountKobo < MinAmountKobo || amountKobo > MaxAmountKobo {
		return 0, ErrAmountOutOfRange
	}
	switch {
	case amountKobo <= MinAmountKobo:
		return feeTier1Kobo, nil
	case amountKobo <= feeTier2UpperKobo:
		return feeTier2Kobo, nil
	default:
		return feeTier3Kobo, nil
	}
}

// AgentSummary is the slice of an agent's profile shown to the customer.
type AgentSummary struct {
	ID             string  `json:"id"`
	FullName       string  `json:"full_name"`
	PhoneNumber    string  `json:"phone_number"`
	Rating         float64 `json:"rating"`
	CompletedCount int     `json:"completed_count"`
}

// AgentMatch is one reachable agent with its route estimate.
type AgentMatch struct {
	Agent        AgentSummary `json:"agent"`
	DistanceText string       `json:"distance"`
	DurationText string       `json:"duration"`
	Meters       float64      `json:"meters"`
	Destination  string       `json:"destination,omitempty"`
	MatchedAt    time.Time    `json:"matched_at"`
}

// StatsSource supplies rating aggregates for agent summaries.
type StatsSource interface {
	AgentStats(ctx context.Context, agentID string) (avgRating float64, completed int, err error)
}

// Matcher ranks candidate agents by reachability.
type Matcher struct {
	oracle  routing.Oracle
	stats   StatsSource
	radiusM float64
}

// NewMatcher creates a proximity matcher with the given search radius in meters.
func NewMatcher(oracle routing.Oracle, stats StatsSource, radiusM float64) *Matcher {
	return &Matcher{oracle: oracle, stats: stats, radiusM: radiusM}
}

// Match evaluates each candidate against the destination. Candidates
// beyond the radius or with failed lookups are excluded without error;
// output preserves pool order.
func (m *Matcher) Match(ctx context.Context, dest routing.Coordinates, pool []*users.User) []AgentMatch {
	var matches []AgentMatch
	for _, agent := range pool {
		eta, err := m.oracle.Route(ctx, routing.Coordinates{
			Latitude:  agent.Latitude,
			Longitude: agent.Longitude,
		}, dest)
		if err != nil {
			continue
		}
		if eta.DistanceMeters > m.radiusM {
			routing.RecordLookup("out_of_range")
			continue
		}

		summary := AgentSummary{
			ID:          agent.ID,
			FullName:    agent.FullName(),
			PhoneNumber: agent.PhoneNumber,
		}
		if m.stats != nil {
			if avg, completed, err := m.stats.AgentStats(ctx, agent.ID); err == nil {
				summary.Rating = avg
				summary.CompletedCount = completed
			}
		}

		matches = append(matches, AgentMatch{
			Agent:        summary,
			DistanceText: eta.DistanceText(),
			DurationText: eta.DurationText(),
			Meters:       eta.DistanceMeters,
			Destination:  eta.DestinationName,
			MatchedAt:    time.Now(),
		})
	}
	if len(matches) > 0 {
		metrics.AgentSearchesTotal.WithLabelValues("matched").Inc()
	} else {
		metrics.AgentSearchesTotal.WithLabelValues("empty").Inc()
	}
	return matches
}

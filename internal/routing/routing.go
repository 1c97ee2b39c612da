// Package routing answers "how far apart are these two people" using an
// OSRM-compatible routing provider.
//
// Distances are road-network distances, not straight lines. The provider
// is treated as an oracle: slow or failing lookups exclude a candidate
// rather than blocking a search.
package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/cashxhq/cashx/internal/metrics"
)

// ErrNoRoute is returned when the provider finds no route between points.
var ErrNoRoute = errors.New("routing: no route between coordinates")

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ETA is a computed route estimate between two positions.
type ETA struct {
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
	DestinationName string  `json:"destination_name,omitempty"` // street name at the destination, when the provider knows it
}

// DistanceText renders the distance for clients: "3.20 km", or "40 m"
// below a kilometre.
func (e ETA) DistanceText() string {
	if e.DistanceMeters < 1000 {
		return fmt.Sprintf("%.0f m", e.DistanceMeters)
	}
	return fmt.Sprintf("%.2f km", e.DistanceMeters/1000)
}

// DurationText renders the travel time for clients, e.g. "4 mins".
// Anything under a minute reads "1 min".
func (e ETA) DurationText() string {
	mins := int(math.Round(e.DurationSeconds / 60))
	if mins <= 1 {
		return "1 min"
	}
	return fmt.Sprintf("%d mins", mins)
}

// Oracle computes route estimates between two positions.
type Oracle interface {
	Route(ctx context.Context, from, to Coordinates) (ETA, error)
}

// Doer is the HTTP client surface OSRMClient needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RecordLookup tracks an oracle call outcome.
func RecordLookup(result string) {
	metrics.RouteLookupsTotal.WithLabelValues(result).Inc()
}

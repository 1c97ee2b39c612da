package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OSRMClient queries an OSRM-compatible HTTP routing service.
type OSRMClient struct {
	baseURL string
	client  Doer
	timeout time.Duration
}

// NewOSRMClient creates a routing client. The timeout bounds every
// lookup; a search over N candidates makes N lookups, so this must
// stay short.
func NewOSRMClient(baseURL string, timeout time.Duration) *OSRMClient {
	return &OSRMClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// NewOSRMClientWithDoer creates a routing client with a custom HTTP doer.
func NewOSRMClientWithDoer(baseURL string, timeout time.Duration, doer Doer) *OSRMClient {
	return &OSRMClient{baseURL: baseURL, client: doer, timeout: timeout}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
	Waypoints []struct {
		Name string `json:"name"`
	} `json:"waypoints"`
}

// Route fetches the driving route between two positions.
// OSRM takes coordinates as longitude,latitude pairs.
func (c *OSRMClient) Route(ctx context.Context, from, to Coordinates) (ETA, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=false",
		c.baseURL, from.Longitude, from.Latitude, to.Longitude, to.Latitude)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ETA{}, fmt.Errorf("build route request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		RecordLookup("error")
		return ETA{}, fmt.Errorf("route lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		RecordLookup("error")
		return ETA{}, fmt.Errorf("route lookup: unexpected status %d", resp.StatusCode)
	}

	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		RecordLookup("error")
		return ETA{}, fmt.Errorf("decode route response: %w", err)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		RecordLookup("no_route")
		return ETA{}, ErrNoRoute
	}

	eta := ETA{
		DistanceMeters:  body.Routes[0].Distance,
		DurationSeconds: body.Routes[0].Duration,
	}
	// The second waypoint is the snapped destination.
	if len(body.Waypoints) > 1 {
		eta.DestinationName = body.Waypoints[1].Name
	}

	RecordLookup("ok")
	return eta, nil
}

var _ Oracle = (*OSRMClient)(nil)

package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOSRMRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/route/v1/driving/") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("overview") != "false" {
			t.Errorf("expected overview=false, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":3200.5,"duration":240.0}],"waypoints":[{"name":"Allen Avenue"},{"name":"Adeola Odeku Street"}]}`))
	}))
	defer srv.Close()

	client := NewOSRMClient(srv.URL, 2*time.Second)
	eta, err := client.Route(context.Background(), Coordinates{Latitude: 6.5, Longitude: 3.3}, Coordinates{Latitude: 6.6, Longitude: 3.4})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if eta.DistanceMeters != 3200.5 {
		t.Errorf("expected 3200.5 meters, got %f", eta.DistanceMeters)
	}
	if eta.DurationSeconds != 240 {
		t.Errorf("expected 240 seconds, got %f", eta.DurationSeconds)
	}
	if eta.DestinationName != "Adeola Odeku Street" {
		t.Errorf("expected destination street from second waypoint, got %q", eta.DestinationName)
	}
}

func TestOSRMRouteCoordinateOrder(t *testing.T) {
	// OSRM wants longitude before latitude in the path.
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":1,"duration":1}]}`))
	}))
	defer srv.Close()

	client := NewOSRMClient(srv.URL, 2*time.Second)
	client.Route(context.Background(), Coordinates{Latitude: 6.5, Longitude: 3.3}, Coordinates{Latitude: 6.6, Longitude: 3.4})

	if !strings.Contains(gotPath, "3.300000,6.500000;3.400000,6.600000") {
		t.Errorf("coordinates not lon,lat ordered: %s", gotPath)
	}
}

func TestOSRMRouteNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	}))
	defer srv.Close()

	client := NewOSRMClient(srv.URL, 2*time.Second)
	_, err := client.Route(context.Background(), Coordinates{}, Coordinates{})
	if !errors.Is(err, ErrNoRoute) {
		t.Errorf("expected ErrNoRoute, got %v", err)
	}
}

func TestOSRMRouteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":1,"duration":1}]}`))
	}))
	defer srv.Close()

	client := NewOSRMClient(srv.URL, 10*time.Millisecond)
	_, err := client.Route(context.Background(), Coordinates{}, Coordinates{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestOSRMRouteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewOSRMClient(srv.URL, 2*time.Second)
	_, err := client.Route(context.Background(), Coordinates{}, Coordinates{})
	if err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestETADistanceText(t *testing.T) {
	tests := []struct {
		meters float64
		want   string
	}{
		{3200, "3.20 km"},
		{1000, "1.00 km"},
		{999, "999 m"},
		{500, "500 m"},
		{40, "40 m"},
		{123456, "123.46 km"},
	}
	for _, tt := range tests {
		got := ETA{DistanceMeters: tt.meters}.DistanceText()
		if got != tt.want {
			t.Errorf("DistanceText(%f) = %q, want %q", tt.meters, got, tt.want)
		}
	}
}

func TestETADurationText(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{30, "1 min"},
		{60, "1 min"},
		{90, "2 mins"},
		{240, "4 mins"},
		{0, "1 min"},
	}
	for _, tt := range tests {
		got := ETA{DurationSeconds: tt.seconds}.DurationText()
		if got != tt.want {
			t.Errorf("DurationText(%f) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPOIServiceNearby(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/poi/nearby" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("latitude") != "45.4642" || q.Get("longitude") != "9.19" {
			t.Errorf("coords = (%q, %q)", q.Get("latitude"), q.Get("longitude"))
		}
		if q.Get("radiusKm") != "2" {
			t.Errorf("radiusKm = %q", q.Get("radiusKm"))
		}
		fmt.Fprint(w, `[
			{"id":"p1","name":"Farmacia Centrale","category":"pharmacies","latitude":45.4732,"longitude":9.19}
		]`)
	}))
	defer server.Close()

	s := NewPOIServiceSource(server.URL, nil)

	pois, err := s.Nearby(context.Background(), 45.4642, 9.19, 2.0)
	if err != nil {
		t.Fatalf("Nearby: %v", err)
	}
	if len(pois) != 1 {
		t.Fatalf("len(pois) = %d, want 1", len(pois))
	}
	if pois[0].ID != "p1" || pois[0].Category != "pharmacies" {
		t.Errorf("poi = %+v", pois[0])
	}
	if pois[0].DistanceKm < 0.9 || pois[0].DistanceKm > 1.1 {
		t.Errorf("distance = %v km, want ~1.0", pois[0].DistanceKm)
	}
}

func TestPOIServiceNearbyTypeAndDistanceFields(t *testing.T) {
	// The catalog service labels the category as type and ships a
	// precomputed distance. Both must be honored.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id":"h1","name":"Ospedale Maggiore","type":"hospitals","distanceKm":4.0},
			{"id":"s1","name":"Scuola Manzoni","type":"schools","latitude":45.4732,"longitude":9.19}
		]`)
	}))
	defer server.Close()

	s := NewPOIServiceSource(server.URL, nil)

	pois, err := s.Nearby(context.Background(), 45.4642, 9.19, 10.0)
	if err != nil {
		t.Fatalf("Nearby: %v", err)
	}
	if len(pois) != 2 {
		t.Fatalf("len(pois) = %d, want 2", len(pois))
	}

	hospital := pois[0]
	if hospital.Category != "hospitals" {
		t.Errorf("category = %q, want hospitals (from the type field)", hospital.Category)
	}
	if hospital.DistanceKm != 4.0 {
		t.Errorf("distance = %v km, want the server-provided 4.0", hospital.DistanceKm)
	}

	// Without a server-provided distance the client falls back to
	// Haversine over the returned coordinates.
	school := pois[1]
	if school.Category != "schools" {
		t.Errorf("category = %q, want schools", school.Category)
	}
	if school.DistanceKm < 0.9 || school.DistanceKm > 1.1 {
		t.Errorf("distance = %v km, want ~1.0 computed from coordinates", school.DistanceKm)
	}
}

func TestPOIServiceNearbyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := NewPOIServiceSource(server.URL, nil)

	if _, err := s.Nearby(context.Background(), 45.4642, 9.19, 2.0); err == nil {
		t.Error("expected error for 500 response")
	}
}

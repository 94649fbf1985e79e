package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestOverpassNearby(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		decoded, _ := url.QueryUnescape(strings.TrimPrefix(string(body), "data="))
		gotQuery = decoded
		fmt.Fprint(w, `{"elements":[
			{"type":"node","id":101,"lat":45.4732,"lon":9.19,"tags":{"amenity":"school","name":"Liceo Volta"}},
			{"type":"way","id":202,"center":{"lat":45.4642,"lon":9.2027},"tags":{"shop":"supermarket"}},
			{"type":"node","id":303,"lat":45.47,"lon":9.18,"tags":{"amenity":"fountain","name":"Fontana"}}
		]}`)
	}))
	defer server.Close()

	s := NewOverpassSource(server.URL, nil)

	pois, err := s.Nearby(context.Background(), 45.4642, 9.19, 2.0)
	if err != nil {
		t.Fatalf("Nearby: %v", err)
	}

	if !strings.Contains(gotQuery, "[out:json]") {
		t.Errorf("query missing json output directive: %q", gotQuery)
	}
	for _, frag := range []string{"amenity=school", "amenity=hospital", "shop=supermarket", "amenity=pharmacy", "amenity=bank", "amenity=post_office"} {
		if !strings.Contains(gotQuery, frag) {
			t.Errorf("query missing %q", frag)
		}
	}
	if !strings.Contains(gotQuery, "around:2000") {
		t.Errorf("query missing radius in meters: %q", gotQuery)
	}

	// The fountain carries no scoring category and must be dropped.
	if len(pois) != 2 {
		t.Fatalf("len(pois) = %d, want 2", len(pois))
	}

	school := pois[0]
	if school.ID != "node/101" || school.Category != "schools" || school.Name != "Liceo Volta" {
		t.Errorf("school = %+v", school)
	}
	// Roughly 1 km north of the center.
	if school.DistanceKm < 0.9 || school.DistanceKm > 1.1 {
		t.Errorf("school distance = %v km, want ~1.0", school.DistanceKm)
	}

	super := pois[1]
	if super.ID != "way/202" || super.Category != "supermarkets" {
		t.Errorf("supermarket = %+v", super)
	}
	if super.Name != "Unnamed" {
		t.Errorf("supermarket name = %q, want Unnamed fallback", super.Name)
	}
	// Center fallback, roughly 1 km east.
	if super.DistanceKm < 0.9 || super.DistanceKm > 1.1 {
		t.Errorf("supermarket distance = %v km, want ~1.0", super.DistanceKm)
	}
}

func TestOverpassNearbyEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"elements":[]}`)
	}))
	defer server.Close()

	s := NewOverpassSource(server.URL, nil)

	pois, err := s.Nearby(context.Background(), 45.4642, 9.19, 2.0)
	if err != nil {
		t.Fatalf("Nearby: %v", err)
	}
	if len(pois) != 0 {
		t.Errorf("len(pois) = %d, want 0", len(pois))
	}
}

func TestOverpassNearbyCachesResults(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, `{"elements":[
			{"type":"node","id":1,"lat":45.47,"lon":9.19,"tags":{"amenity":"pharmacy","name":"Farmacia"}}
		]}`)
	}))
	defer server.Close()

	s := NewOverpassSource(server.URL, nil)

	for i := 0; i < 3; i++ {
		pois, err := s.Nearby(context.Background(), 45.4642, 9.19, 2.0)
		if err != nil {
			t.Fatalf("Nearby call %d: %v", i, err)
		}
		if len(pois) != 1 {
			t.Fatalf("call %d: len(pois) = %d, want 1", i, len(pois))
		}
	}

	if requests != 1 {
		t.Errorf("upstream requests = %d, want 1 (repeat lookups should hit the cache)", requests)
	}
}

func TestOverpassNearbyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	s := NewOverpassSource(server.URL, nil)

	if _, err := s.Nearby(context.Background(), 45.4642, 9.19, 2.0); err == nil {
		t.Error("expected error for 429 response")
	}
}

package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Narmer23/vicinia/pkg/core"
	"github.com/Narmer23/vicinia/pkg/tracing"
)

func init() {
	// Tests hit local httptest servers, not the public instances.
	UpdateRateLimits(tracing.ServiceNominatim, 100, 100)
	UpdateRateLimits(tracing.ServiceOverpass, 100, 100)
	UpdateRateLimits(tracing.ServicePOI, 100, 100)
	UpdateRateLimits(tracing.ServiceHistory, 100, 100)
	SetRetryOptions(core.RetryOptions{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1.0,
	})
}

func TestNominatimGeocode(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.URL.Path != "/search" {
			t.Errorf("path = %q, want /search", r.URL.Path)
		}
		if q := r.URL.Query().Get("q"); q != "Duomo, Milano" {
			t.Errorf("q = %q", q)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent header")
		}
		fmt.Fprint(w, `[{"lat":"45.4642","lon":"9.1900","display_name":"Piazza del Duomo, Milano, Italia"}]`)
	}))
	defer server.Close()

	g := NewNominatimGeocoder(server.URL, nil)

	result, err := g.Geocode(context.Background(), "Duomo, Milano")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if result == nil {
		t.Fatal("Geocode returned nil result")
	}
	if result.Latitude != 45.4642 || result.Longitude != 9.19 {
		t.Errorf("coords = (%v, %v), want (45.4642, 9.19)", result.Latitude, result.Longitude)
	}
	if result.FormattedAddress != "Piazza del Duomo, Milano, Italia" {
		t.Errorf("FormattedAddress = %q", result.FormattedAddress)
	}

	// Second lookup of the same address must come from the cache.
	if _, err := g.Geocode(context.Background(), "duomo, milano"); err != nil {
		t.Fatalf("cached Geocode: %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("upstream requests = %d, want 1", n)
	}
}

func TestNominatimGeocodeNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	g := NewNominatimGeocoder(server.URL, nil)

	result, err := g.Geocode(context.Background(), "nowhere at all")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil for no match", result)
	}
}

func TestNominatimGeocodeEmptyAddress(t *testing.T) {
	g := NewNominatimGeocoder("http://127.0.0.1:1", nil)

	result, err := g.Geocode(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil for blank address", result)
	}
}

func TestNominatimGeocodeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	g := NewNominatimGeocoder(server.URL, nil)

	if _, err := g.Geocode(context.Background(), "Duomo"); err == nil {
		t.Error("expected error for 503 response")
	}
}

func TestNominatimGeocodeBadCoordinates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"lat":"not-a-number","lon":"9.19","display_name":"x"}]`)
	}))
	defer server.Close()

	g := NewNominatimGeocoder(server.URL, nil)

	if _, err := g.Geocode(context.Background(), "Duomo"); err == nil {
		t.Error("expected error for malformed coordinates")
	}
}

func TestNominatimReverse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("path = %q, want /reverse", r.URL.Path)
		}
		if lat := r.URL.Query().Get("lat"); lat != "45.4642" {
			t.Errorf("lat = %q", lat)
		}
		fmt.Fprint(w, `{"lat":"45.4642","lon":"9.19","display_name":"Piazza del Duomo, Milano"}`)
	}))
	defer server.Close()

	g := NewNominatimGeocoder(server.URL, nil)

	result, err := g.Reverse(context.Background(), 45.4642, 9.19)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if result == nil || result.FormattedAddress != "Piazza del Duomo, Milano" {
		t.Errorf("result = %+v", result)
	}
}

func TestNominatimReverseNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	g := NewNominatimGeocoder(server.URL, nil)

	result, err := g.Reverse(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
}

package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Narmer23/vicinia/pkg/scoring"
	"github.com/Narmer23/vicinia/pkg/tools"
)

type fakeGeocoder struct {
	result *scoring.GeocodeResult
	err    error
}

func (g *fakeGeocoder) Geocode(ctx context.Context, address string) (*scoring.GeocodeResult, error) {
	return g.result, g.err
}

type fakePOISource struct {
	pois []scoring.POI
	err  error
}

func (s *fakePOISource) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]scoring.POI, error) {
	return s.pois, s.err
}

type fakeReverser struct {
	result *scoring.GeocodeResult
}

func (f *fakeReverser) Reverse(ctx context.Context, lat, lon float64) (*scoring.GeocodeResult, error) {
	return f.result, nil
}

func newTestToolRegistry(geocoder scoring.Geocoder, pois scoring.POISource, reverser tools.Reverser) *tools.Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := scoring.NewOrchestrator(scoring.NewRegistry(), geocoder, pois, nil, logger)
	return tools.NewRegistry(logger, orch, reverser, nil)
}

func defaultTestRegistry() *tools.Registry {
	geocoder := &fakeGeocoder{result: &scoring.GeocodeResult{
		Latitude:         45.4642,
		Longitude:        9.19,
		FormattedAddress: "Piazza del Duomo, Milano",
	}}
	pois := &fakePOISource{pois: []scoring.POI{
		{ID: "node/1", Name: "Liceo Volta", Category: "schools", DistanceKm: 1.0},
	}}
	reverser := &fakeReverser{result: &scoring.GeocodeResult{
		Latitude:         45.4642,
		Longitude:        9.19,
		FormattedAddress: "Piazza del Duomo, Milano",
	}}
	return newTestToolRegistry(geocoder, pois, reverser)
}

func TestNewServer(t *testing.T) {
	s, err := NewServer(defaultTestRegistry())
	if err != nil {
		t.Errorf("NewServer() error = %v", err)
	}
	if s == nil {
		t.Error("NewServer() returned nil server")
	}
}

func TestServer_Run(t *testing.T) {
	s, err := NewServer(defaultTestRegistry())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	// Create a context that we can cancel
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the server in a goroutine
	go func() {
		if err := s.RunWithContext(ctx); err != nil {
			t.Errorf("RunWithContext() error = %v", err)
		}
	}()

	// Shutdown the server
	s.Shutdown()
	s.WaitForShutdown()
}

func TestHandler_Health(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, defaultTestRegistry())
	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	status, err := h.handleHealth(rr, req)
	if err != nil {
		t.Fatalf("handleHealth returned error: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
}

func TestHandler_Score(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, defaultTestRegistry())

	req := httptest.NewRequest("GET", "/score?address=Piazza+del+Duomo%2C+Milano&transportation_mode=walking", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result scoring.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Location != "Piazza del Duomo, Milano" {
		t.Errorf("unexpected location %q", result.Location)
	}
	if result.OverallScore <= 0 {
		t.Errorf("expected positive overall score, got %f", result.OverallScore)
	}
}

func TestHandler_ScoreAddressNotFound(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := newTestToolRegistry(&fakeGeocoder{}, &fakePOISource{}, nil)
	h := NewHandler(logger, registry)

	req := httptest.NewRequest("GET", "/score?address=nowhere", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body["error"] != "Could not geocode the provided address" {
		t.Errorf("unexpected error message %q", body["error"])
	}
}

func TestHandler_ScoreUpstreamFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	geocoder := &fakeGeocoder{result: &scoring.GeocodeResult{Latitude: 45.4642, Longitude: 9.19}}
	pois := &fakePOISource{err: io.ErrUnexpectedEOF}
	h := NewHandler(logger, newTestToolRegistry(geocoder, pois, nil))

	req := httptest.NewRequest("GET", "/score?address=Piazza+del+Duomo", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestHandler_ScoreCoordinates(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, defaultTestRegistry())

	req := httptest.NewRequest("GET", "/score/coordinates?latitude=45.4642&longitude=9.19&transportation_mode=cycling", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result scoring.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.TransportationMode != "cycling" {
		t.Errorf("unexpected mode %q", result.TransportationMode)
	}
}

func TestHandler_Formulas(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, defaultTestRegistry())

	req := httptest.NewRequest("GET", "/formulas", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body struct {
		Formulas []scoring.Formula `json:"formulas"`
		Count    int               `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Count != 6 {
		t.Errorf("expected 6 formulas, got %d", body.Count)
	}
}

func TestHandler_ReverseGeocode(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, defaultTestRegistry())

	req := httptest.NewRequest("GET", "/reverse_geocode?latitude=45.4642&longitude=9.19", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var result scoring.GeocodeResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.FormattedAddress != "Piazza del Duomo, Milano" {
		t.Errorf("unexpected address %q", result.FormattedAddress)
	}
}

func TestHandler_NotFound(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, defaultTestRegistry())

	req := httptest.NewRequest("GET", "/no/such/path", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

// testLogHandler is a custom slog handler for testing
type testLogHandler struct {
	logs  *[]string
	mutex *sync.Mutex
}

func (h *testLogHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *testLogHandler) Handle(ctx context.Context, record slog.Record) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	*h.logs = append(*h.logs, record.Message)
	return nil
}

func (h *testLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *testLogHandler) WithGroup(name string) slog.Handler {
	return h
}

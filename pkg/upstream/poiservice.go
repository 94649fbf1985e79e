package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Narmer23/vicinia/pkg/geo"
	"github.com/Narmer23/vicinia/pkg/scoring"
	"github.com/Narmer23/vicinia/pkg/tracing"
)

// catalogPOI is the wire format of a POI catalog entry. The catalog labels
// the scoring category as type; category is accepted as an alias. When the
// catalog supplies a distance it is taken as-is, otherwise the distance is
// computed client-side from the returned coordinates.
type catalogPOI struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Category   string   `json:"category"`
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	DistanceKm *float64 `json:"distanceKm"`
}

// category returns the scoring category, whichever field the catalog used.
func (e catalogPOI) category() string {
	if e.Type != "" {
		return e.Type
	}
	return e.Category
}

// POIServiceSource fetches POIs from a dedicated catalog service instead of
// Overpass. Used when a curated POI dataset is available.
type POIServiceSource struct {
	baseURL string
	logger  *slog.Logger
}

// NewPOIServiceSource creates a POI source for a catalog service rooted at
// baseURL.
func NewPOIServiceSource(baseURL string, logger *slog.Logger) *POIServiceSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &POIServiceSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Nearby returns the catalog POIs within radiusKm of the location.
func (s *POIServiceSource) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]scoring.POI, error) {
	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("radiusKm", strconv.FormatFloat(radiusKm, 'f', -1, 64))

	reqURL := s.baseURL + "/api/poi/nearby?" + query.Encode()
	req, err := NewRequestWithUserAgent(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating poi catalog request: %w", err)
	}

	resp, err := MonitoredDoRequest(ctx, tracing.ServicePOI, "nearby_pois", req)
	if err != nil {
		return nil, fmt.Errorf("poi catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poi catalog returned status %d", resp.StatusCode)
	}

	var entries []catalogPOI
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding poi catalog response: %w", err)
	}

	pois := make([]scoring.POI, 0, len(entries))
	for _, e := range entries {
		distance := geo.HaversineDistanceKm(lat, lon, e.Latitude, e.Longitude)
		if e.DistanceKm != nil {
			distance = *e.DistanceKm
		}
		pois = append(pois, scoring.POI{
			ID:         e.ID,
			Name:       e.Name,
			Category:   e.category(),
			DistanceKm: distance,
		})
	}
	return pois, nil
}

// CheckHealth reports whether the catalog service is responsive.
func (s *POIServiceSource) CheckHealth() error {
	return checkHealth(tracing.ServicePOI, s.baseURL+"/health")
}

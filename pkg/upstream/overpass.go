package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Narmer23/vicinia/pkg/cache"
	"github.com/Narmer23/vicinia/pkg/geo"
	"github.com/Narmer23/vicinia/pkg/monitoring"
	"github.com/Narmer23/vicinia/pkg/scoring"
	"github.com/Narmer23/vicinia/pkg/tracing"
)

// OverpassBaseURL is the default public Overpass API endpoint
const OverpassBaseURL = "https://overpass-api.de/api/interpreter"

// categoryTags maps scoring categories to the OSM tag that identifies them.
// The order is fixed so generated queries are stable.
var categoryTags = []struct {
	category string
	key      string
	value    string
}{
	{"schools", "amenity", "school"},
	{"hospitals", "amenity", "hospital"},
	{"supermarkets", "shop", "supermarket"},
	{"pharmacies", "amenity", "pharmacy"},
	{"banks", "amenity", "bank"},
	{"post_offices", "amenity", "post_office"},
}

// overpassElement is the wire format of an Overpass API element. Ways and
// relations carry their coordinates in the center member.
type overpassElement struct {
	ID     int64   `json:"id"`
	Type   string  `json:"type"`
	Lat    float64 `json:"lat,omitempty"`
	Lon    float64 `json:"lon,omitempty"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center,omitempty"`
	Tags map[string]string `json:"tags,omitempty"`
}

// OverpassSource finds POIs around a location by querying the Overpass API
// for the scoring categories' OSM tags.
type OverpassSource struct {
	baseURL string
	logger  *slog.Logger
	cache   *cache.TTLCache
}

// NewOverpassSource creates a POI source against the given Overpass
// endpoint. An empty baseURL selects the public instance.
func NewOverpassSource(baseURL string, logger *slog.Logger) *OverpassSource {
	if baseURL == "" {
		baseURL = OverpassBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OverpassSource{
		baseURL: baseURL,
		logger:  logger,
		cache:   cache.NewTTLCache(5*time.Minute, time.Minute, 256),
	}
}

// Nearby returns the POIs of all scoring categories within radiusKm of the
// location. An empty slice means nothing matched, not a failure.
func (s *OverpassSource) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]scoring.POI, error) {
	cacheKey := fmt.Sprintf("overpass:%.5f:%.5f:%.1f", lat, lon, radiusKm)
	if cached, ok := s.cache.Get(cacheKey); ok {
		if pois, ok := cached.([]scoring.POI); ok {
			monitoring.RecordCacheHit("poi")
			s.logger.Debug("poi cache hit", "lat", lat, "lon", lon, "radius_km", radiusKm)
			return pois, nil
		}
	}
	monitoring.RecordCacheMiss("poi")

	query := buildAroundQuery(lat, lon, radiusKm*1000)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL,
		strings.NewReader("data="+url.QueryEscape(query)))
	if err != nil {
		return nil, fmt.Errorf("creating poi request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := MonitoredDoRequest(ctx, tracing.ServiceOverpass, "nearby_pois", req)
	if err != nil {
		return nil, fmt.Errorf("poi request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poi service returned status %d", resp.StatusCode)
	}

	var payload struct {
		Elements []overpassElement `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding poi response: %w", err)
	}

	pois := make([]scoring.POI, 0, len(payload.Elements))
	for _, el := range payload.Elements {
		elLat, elLon, ok := elementCoords(el)
		if !ok {
			continue
		}
		category, ok := elementCategory(el.Tags)
		if !ok {
			continue
		}
		pois = append(pois, scoring.POI{
			ID:         fmt.Sprintf("%s/%d", el.Type, el.ID),
			Name:       elementName(el.Tags),
			Category:   category,
			DistanceKm: geo.HaversineDistanceKm(lat, lon, elLat, elLon),
		})
	}

	s.cache.Set(cacheKey, pois)
	s.logger.Debug("poi lookup complete", "lat", lat, "lon", lon, "radius_km", radiusKm, "count", len(pois))
	return pois, nil
}

// CheckHealth reports whether the Overpass endpoint is responsive.
func (s *OverpassSource) CheckHealth() error {
	return checkHealth(tracing.ServiceOverpass, s.baseURL+"?data="+url.QueryEscape("[out:json];out meta;"))
}

// buildAroundQuery builds an Overpass QL union of around-filters, one per
// scoring category, with a center for ways and relations.
func buildAroundQuery(lat, lon, radiusM float64) string {
	var b strings.Builder
	b.WriteString("[out:json][timeout:25];(")
	for _, tag := range categoryTags {
		b.WriteString(fmt.Sprintf("nwr[%s=%s](around:%f,%f,%f);", tag.key, tag.value, radiusM, lat, lon))
	}
	b.WriteString(");out center;")
	return b.String()
}

// elementCoords returns an element's coordinates, preferring the node
// position and falling back to the computed center.
func elementCoords(el overpassElement) (lat, lon float64, ok bool) {
	if el.Lat != 0 || el.Lon != 0 {
		return el.Lat, el.Lon, true
	}
	if el.Center != nil {
		return el.Center.Lat, el.Center.Lon, true
	}
	return 0, 0, false
}

// elementCategory maps an element's tags back to the scoring category that
// matched it.
func elementCategory(tags map[string]string) (string, bool) {
	for _, tag := range categoryTags {
		if tags[tag.key] == tag.value {
			return tag.category, true
		}
	}
	return "", false
}

// elementName returns the element's name tag or a fallback for unnamed
// features.
func elementName(tags map[string]string) string {
	if name := tags["name"]; name != "" {
		return name
	}
	return "Unnamed"
}

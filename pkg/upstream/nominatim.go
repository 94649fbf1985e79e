package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Narmer23/vicinia/pkg/monitoring"
	"github.com/Narmer23/vicinia/pkg/scoring"
	"github.com/Narmer23/vicinia/pkg/tracing"
)

const (
	// NominatimBaseURL is the default public Nominatim instance
	NominatimBaseURL = "https://nominatim.openstreetmap.org"

	// defaultGeocodeCacheSize bounds the geocode result cache
	defaultGeocodeCacheSize = 500
)

// nominatimPlace is the wire format of a Nominatim search result.
// Coordinates arrive as strings.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// NominatimGeocoder resolves addresses against a Nominatim instance.
// Results, including negative ones, are cached so repeated lookups of the
// same address never hit the upstream twice. Concurrent lookups of the same
// address are collapsed into a single request.
type NominatimGeocoder struct {
	baseURL string
	cache   *lru.Cache[string, *scoring.GeocodeResult]
	group   singleflight.Group
	logger  *slog.Logger
}

// NewNominatimGeocoder creates a geocoder against the given base URL. An
// empty baseURL selects the public instance.
func NewNominatimGeocoder(baseURL string, logger *slog.Logger) *NominatimGeocoder {
	if baseURL == "" {
		baseURL = NominatimBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, *scoring.GeocodeResult](defaultGeocodeCacheSize)
	if err != nil {
		cache, _ = lru.New[string, *scoring.GeocodeResult](16)
	}
	return &NominatimGeocoder{
		baseURL: baseURL,
		cache:   cache,
		logger:  logger,
	}
}

// Geocode resolves an address to coordinates. A nil result with nil error
// means Nominatim returned no match.
func (g *NominatimGeocoder) Geocode(ctx context.Context, address string) (*scoring.GeocodeResult, error) {
	key := strings.ToLower(strings.TrimSpace(address))
	if key == "" {
		return nil, nil
	}

	if cached, ok := g.cache.Get(key); ok {
		monitoring.RecordCacheHit("geocode")
		g.logger.Debug("geocode cache hit", "address", address)
		return cached, nil
	}
	monitoring.RecordCacheMiss("geocode")

	v, err, _ := g.group.Do(key, func() (interface{}, error) {
		result, err := g.lookup(ctx, address)
		if err != nil {
			return nil, err
		}
		g.cache.Add(key, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*scoring.GeocodeResult), nil
}

func (g *NominatimGeocoder) lookup(ctx context.Context, address string) (*scoring.GeocodeResult, error) {
	query := url.Values{}
	query.Set("q", address)
	query.Set("format", "json")
	query.Set("limit", "1")

	reqURL := g.baseURL + "/search?" + query.Encode()
	req, err := NewRequestWithUserAgent(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating geocode request: %w", err)
	}

	resp, err := MonitoredDoRequest(ctx, tracing.ServiceNominatim, "geocode", req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode service returned status %d", resp.StatusCode)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("decoding geocode response: %w", err)
	}

	if len(places) == 0 {
		return nil, nil
	}
	return placeToResult(places[0])
}

// Reverse resolves coordinates to the nearest address.
func (g *NominatimGeocoder) Reverse(ctx context.Context, lat, lon float64) (*scoring.GeocodeResult, error) {
	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("format", "json")

	reqURL := g.baseURL + "/reverse?" + query.Encode()
	req, err := NewRequestWithUserAgent(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating reverse geocode request: %w", err)
	}

	resp, err := MonitoredDoRequest(ctx, tracing.ServiceNominatim, "reverse_geocode", req)
	if err != nil {
		return nil, fmt.Errorf("reverse geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reverse geocode service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading reverse geocode response: %w", err)
	}

	var place nominatimPlace
	if err := json.Unmarshal(body, &place); err != nil {
		return nil, fmt.Errorf("decoding reverse geocode response: %w", err)
	}
	if place.Lat == "" || place.Lon == "" {
		return nil, nil
	}
	return placeToResult(place)
}

// CheckHealth reports whether the Nominatim instance is responsive.
func (g *NominatimGeocoder) CheckHealth() error {
	return checkHealth(tracing.ServiceNominatim, g.baseURL+"/status")
}

func placeToResult(place nominatimPlace) (*scoring.GeocodeResult, error) {
	lat, err := strconv.ParseFloat(place.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q in geocode response: %w", place.Lat, err)
	}
	lon, err := strconv.ParseFloat(place.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q in geocode response: %w", place.Lon, err)
	}
	return &scoring.GeocodeResult{
		Latitude:         lat,
		Longitude:        lon,
		FormattedAddress: place.DisplayName,
	}, nil
}

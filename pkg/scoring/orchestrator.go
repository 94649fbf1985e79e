package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/Narmer23/vicinia/pkg/monitoring"
)

// ErrAddressNotFound indicates the geocoder could not resolve the supplied
// address. This is a client input error, surfaced immediately and never
// retried.
var ErrAddressNotFound = errors.New("could not geocode the provided address")

// UpstreamError wraps a failure of a required collaborator. The orchestrator
// surfaces it as a generic server error without partial results.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s service unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// GeocodeResult is the structured outcome of a geocoder lookup.
type GeocodeResult struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	FormattedAddress string  `json:"formattedAddress,omitempty"`
}

// Geocoder resolves a free-text address to coordinates. A nil result with a
// nil error means the address could not be resolved.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*GeocodeResult, error)
}

// POI is a point of interest observed near the scored location.
type POI struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	DistanceKm float64 `json:"distanceKm"`
}

// POISource returns the POIs within a radius of a location. An empty slice
// is a legitimate "nothing nearby" outcome and is kept distinct from a
// transport error.
type POISource interface {
	Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]POI, error)
}

// HistoryEntry is the record forwarded to the history sink after a
// successful scoring run for an identified user.
type HistoryEntry struct {
	UserID             string  `json:"userId"`
	Address            string  `json:"address"`
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	TransportationMode string  `json:"transportationMode"`
	OverallScore       float64 `json:"overallScore"`
	PoiCount           int     `json:"poiCount"`
}

// HistorySink persists scoring outcomes. Recording is best-effort from the
// orchestrator's point of view; failures never affect the response.
type HistorySink interface {
	Record(ctx context.Context, entry HistoryEntry) error
}

// Result is the terminal artifact of one scoring request.
type Result struct {
	OverallScore       float64            `json:"overallScore"`
	CategoryScores     map[string]float64 `json:"categoryScores"`
	PoiScores          []PoiScore         `json:"poiScores"`
	TransportationMode string             `json:"transportationMode"`
	Location           string             `json:"location"`
	Message            string             `json:"message,omitempty"`
}

// noPoisMessage explains a valid zero-score outcome.
const noPoisMessage = "No POIs found in the specified radius"

// historyTimeout bounds the best-effort history write so a slow sink cannot
// stall an otherwise finished request.
const historyTimeout = 5 * time.Second

// Orchestrator sequences one scoring request: resolve coordinates, fetch
// nearby POIs at a mode-dependent radius, score, and optionally persist the
// outcome. Steps are sequential because each step's output is the next
// step's input; concurrent requests share nothing but the immutable
// registry.
type Orchestrator struct {
	registry *Registry
	geocoder Geocoder
	pois     POISource
	history  HistorySink // optional; nil disables history recording
	logger   *slog.Logger
}

// NewOrchestrator wires the scoring pipeline. history may be nil.
func NewOrchestrator(registry *Registry, geocoder Geocoder, pois POISource, history HistorySink, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		geocoder: geocoder,
		pois:     pois,
		history:  history,
		logger:   logger,
	}
}

// Registry exposes the formula registry backing this orchestrator.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// CalculateByAddress scores a free-text address. Returns ErrAddressNotFound
// when geocoding yields no result, or an *UpstreamError when a required
// collaborator fails.
func (o *Orchestrator) CalculateByAddress(ctx context.Context, address, mode, userID string) (*Result, error) {
	o.logger.Info("calculating score", "address", address, "mode", mode)

	geo, err := o.geocoder.Geocode(ctx, address)
	if err != nil {
		// A timed-out geocoder is indistinguishable from an unresolvable
		// address for the caller: both terminate with the client error.
		if isTimeout(err) {
			o.logger.Warn("geocoding timed out", "address", address, "error", err)
			return nil, ErrAddressNotFound
		}
		o.logger.Error("geocoding failed", "address", address, "error", err)
		return nil, &UpstreamError{Service: "geocoder", Err: err}
	}
	if geo == nil {
		o.logger.Warn("address not found", "address", address)
		return nil, ErrAddressNotFound
	}

	label := geo.FormattedAddress
	if label == "" {
		label = address
	}
	return o.scoreAt(ctx, geo.Latitude, geo.Longitude, label, address, mode, userID)
}

// CalculateAt scores raw coordinates, skipping the geocoding step. The
// optional address is used for the location label and the history record.
func (o *Orchestrator) CalculateAt(ctx context.Context, lat, lon float64, address, mode, userID string) (*Result, error) {
	o.logger.Info("calculating score", "lat", lat, "lon", lon, "mode", mode)

	label := address
	if label == "" {
		label = coordinateLabel(lat, lon)
	}
	return o.scoreAt(ctx, lat, lon, label, label, mode, userID)
}

// scoreAt runs steps 2-6 of the pipeline: radius selection, POI fetch,
// scoring and the best-effort history write.
func (o *Orchestrator) scoreAt(ctx context.Context, lat, lon float64, label, address, mode, userID string) (*Result, error) {
	radiusKm := RadiusForMode(mode)

	pois, err := o.pois.Nearby(ctx, lat, lon, radiusKm)
	if err != nil {
		// Per the resource model a POI-source timeout degrades to the
		// legitimate "nothing nearby" outcome; other transport failures
		// abort the request.
		if isTimeout(err) {
			o.logger.Warn("poi lookup timed out, returning empty result", "lat", lat, "lon", lon, "error", err)
			pois = nil
		} else {
			o.logger.Error("poi lookup failed", "lat", lat, "lon", lon, "radius_km", radiusKm, "error", err)
			return nil, &UpstreamError{Service: "poi", Err: err}
		}
	}

	if len(pois) == 0 {
		return &Result{
			OverallScore:       0,
			CategoryScores:     map[string]float64{},
			PoiScores:          []PoiScore{},
			TransportationMode: mode,
			Location:           label,
			Message:            noPoisMessage,
		}, nil
	}

	distances := make([]PoiDistance, 0, len(pois))
	for _, p := range pois {
		distances = append(distances, PoiDistance{
			PoiID:      p.ID,
			Category:   p.Category,
			Name:       p.Name,
			DistanceKm: p.DistanceKm,
		})
	}

	poiScores := o.registry.ScorePois(distances)
	averages := CategoryAverages(poiScores)
	overall := Round2(o.registry.OverallScore(averages))

	categoryScores := make(map[string]float64, len(averages))
	for category, avg := range averages {
		categoryScores[category] = Round2(avg)
	}

	result := &Result{
		OverallScore:       overall,
		CategoryScores:     categoryScores,
		PoiScores:          poiScores,
		TransportationMode: mode,
		Location:           label,
	}

	if userID != "" && o.history != nil {
		o.recordHistory(ctx, HistoryEntry{
			UserID:             userID,
			Address:            address,
			Latitude:           lat,
			Longitude:          lon,
			TransportationMode: mode,
			OverallScore:       overall,
			PoiCount:           len(pois),
		})
	}

	o.logger.Info("score calculated", "score", overall, "poi_count", len(pois))
	return result, nil
}

// recordHistory forwards the outcome to the history sink. Failure is
// logged and swallowed: scoring correctness never depends on history
// durability.
func (o *Orchestrator) recordHistory(ctx context.Context, entry HistoryEntry) {
	recordCtx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	if err := o.history.Record(recordCtx, entry); err != nil {
		monitoring.RecordHistoryWrite(false)
		o.logger.Warn("failed to save search history",
			"user_id", entry.UserID,
			"error", err)
		return
	}
	monitoring.RecordHistoryWrite(true)
}

// coordinateLabel formats a fallback location label from raw coordinates.
func coordinateLabel(lat, lon float64) string {
	return fmt.Sprintf("Lat: %v, Lon: %v", lat, lon)
}

// isTimeout reports whether an upstream error was caused by a deadline or a
// network timeout rather than a protocol failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

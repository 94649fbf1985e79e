package scoring

import "strings"

// Transportation modes recognized by the radius policy.
const (
	ModeWalking         = "walking"
	ModeCycling         = "cycling"
	ModeDriving         = "driving"
	ModePublicTransport = "public_transport"
)

// DefaultRadiusKm is the search radius applied to unknown transport modes.
const DefaultRadiusKm = 5.0

// RadiusForMode maps a transportation mode to a POI search radius in
// kilometers. The match is case-insensitive; any unrecognized mode,
// including the empty string, falls back to the default radius.
func RadiusForMode(mode string) float64 {
	switch strings.ToLower(mode) {
	case ModeWalking:
		return 2.0
	case ModeCycling:
		return 5.0
	case ModeDriving:
		return 10.0
	case ModePublicTransport:
		return 8.0
	default:
		return DefaultRadiusKm
	}
}

package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Narmer23/vicinia/pkg/scoring"
)

// Reverser resolves coordinates back to an address.
type Reverser interface {
	Reverse(ctx context.Context, lat, lon float64) (*scoring.GeocodeResult, error)
}

// ReverseGeocodeTool returns a tool definition for reverse geocoding
func ReverseGeocodeTool() mcp.Tool {
	return mcp.NewTool("reverse_geocode",
		mcp.WithDescription("Convert geographic coordinates to a human-readable address"),
		mcp.WithNumber("latitude",
			mcp.Required(),
			mcp.Description("The latitude coordinate to reverse geocode"),
		),
		mcp.WithNumber("longitude",
			mcp.Required(),
			mcp.Description("The longitude coordinate to reverse geocode"),
		),
	)
}

// HandleReverseGeocode implements coordinate to address lookup
func (r *Registry) HandleReverseGeocode(ctx context.Context, rawInput mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger := r.logger.With("tool", "reverse_geocode")

	latitude := mcp.ParseFloat64(rawInput, "latitude", 0)
	longitude := mcp.ParseFloat64(rawInput, "longitude", 0)

	if err := ValidateCoordinates(latitude, longitude); err != nil {
		return coordinateValidationError("reverse_geocode", err), nil
	}
	if r.reverser == nil {
		return ErrorResponse("Reverse geocoding is not enabled"), nil
	}

	result, err := r.reverser.Reverse(ctx, latitude, longitude)
	if err != nil {
		logger.Error("reverse geocoding failed", "error", err)
		return ErrorResponse("Internal server error"), nil
	}
	if result == nil {
		return ErrorResponse("No address found for the given coordinates"), nil
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		logger.Error("failed to marshal result", "error", err)
		return ErrorResponse("Failed to generate result"), nil
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}

// Package tools provides the vicinia MCP tools implementations.
package tools

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Narmer23/vicinia/pkg/geo"
)

// ErrorResponse creates an error tool result with the given message
func ErrorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

// ValidateCoordinates validates latitude and longitude are within valid ranges
func ValidateCoordinates(lat, lon float64) error {
	return geo.ValidateCoords(lat, lon)
}

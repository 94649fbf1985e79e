package tools

import (
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
)

// APIError represents an error that occurred while communicating with
// an external API service, with information to help users recover.
type APIError struct {
	Service     string // The API service name (e.g., "geocoder", "poi")
	StatusCode  int    // HTTP status code
	Message     string // Error message
	Recoverable bool   // Whether the error can be recovered from
	Guidance    string // Guidance for users on how to recover
}

// Error implements the error interface and provides a formatted error message.
func (e *APIError) Error() string {
	if e.Guidance != "" {
		return fmt.Sprintf("%s API error (%d): %s. %s", e.Service, e.StatusCode, e.Message, e.Guidance)
	}
	return fmt.Sprintf("%s API error (%d): %s", e.Service, e.StatusCode, e.Message)
}

// Common error guidance messages
const (
	GuidanceGeocoder = "Check your address formatting and try again."
	GuidancePOI      = "Try a different transportation mode with a smaller search radius."
	GuidanceGeneral  = "Please try again later or modify your request parameters."
)

// NewAPIError creates a new APIError with appropriate guidance based on status code.
func NewAPIError(service string, statusCode int, message, guidance string) *APIError {
	// Use provided guidance if available, otherwise infer based on status code
	if guidance == "" {
		switch statusCode {
		case http.StatusTooManyRequests:
			guidance = "Rate limit exceeded. Please try again in a few moments."
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			guidance = "The request timed out. Try a transportation mode with a smaller search radius."
		case http.StatusBadRequest:
			guidance = "The request was invalid. Check your parameters and try again."
		case http.StatusInternalServerError, http.StatusServiceUnavailable:
			guidance = "The service is temporarily unavailable. Please try again later."
		default:
			guidance = GuidanceGeneral
		}
	}

	return &APIError{
		Service:     service,
		StatusCode:  statusCode,
		Message:     message,
		Recoverable: statusCode != http.StatusBadRequest,
		Guidance:    guidance,
	}
}

// upstreamGuidance maps an orchestrator collaborator to recovery guidance.
func upstreamGuidance(service string) string {
	switch service {
	case "geocoder":
		return GuidanceGeocoder
	case "poi":
		return GuidancePOI
	default:
		return GuidanceGeneral
	}
}

// ErrorWithGuidance returns a properly formatted error response with user guidance.
func ErrorWithGuidance(err *APIError) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s\n\nGuidance: %s", err.Message, err.Guidance)
	return mcp.NewToolResultError(errorText)
}

// coordinateValidationError rejects out-of-range coordinates with an
// example of valid input for the tool.
func coordinateValidationError(toolName string, err error) *mcp.CallToolResult {
	apiErr := NewAPIError("validation", http.StatusBadRequest, err.Error(),
		"Expected input:\n"+GetToolUsageExample(toolName))
	return ErrorWithGuidance(apiErr)
}

// GetToolUsageExample returns an example JSON snippet for using a specific tool
// This is helpful for providing guidance when parameter validation fails
func GetToolUsageExample(toolName string) string {
	examples := map[string]string{
		"calculate_score": `{
  "address": "Piazza del Duomo, Milano",
  "transportation_mode": "walking",
  "user_id": "user-42"
}`,
		"calculate_score_coordinates": `{
  "latitude": 45.4642,
  "longitude": 9.19,
  "transportation_mode": "cycling"
}`,
		"reverse_geocode": `{
  "latitude": 45.4642,
  "longitude": 9.19
}`,
		"get_search_history": `{
  "user_id": "user-42",
  "page": 1,
  "page_size": 20
}`,
		"list_formulas":   `{}`,
		"list_categories": `{}`,
	}

	if example, exists := examples[toolName]; exists {
		return example
	}

	// Generic example if not found
	return `{
  "latitude": 45.4642,
  "longitude": 9.19
}`
}

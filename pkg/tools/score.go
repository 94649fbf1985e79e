package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Narmer23/vicinia/pkg/monitoring"
	"github.com/Narmer23/vicinia/pkg/scoring"
)

// CalculateScoreTool returns a tool definition for scoring an address
func CalculateScoreTool() mcp.Tool {
	return mcp.NewTool("calculate_score",
		mcp.WithDescription("Calculate the liveability score of an address based on nearby points of interest"),
		mcp.WithString("address",
			mcp.Required(),
			mcp.Description("The address to score (e.g., 'Piazza del Duomo, Milano')"),
		),
		mcp.WithString("transportation_mode",
			mcp.Description("Transportation mode determining the search radius: walking, cycling, driving or public_transport"),
			mcp.DefaultString(scoring.ModeWalking),
		),
		mcp.WithString("user_id",
			mcp.Description("Optional user identifier; when set the search is recorded in the history"),
			mcp.DefaultString(""),
		),
	)
}

// HandleCalculateScore implements address based liveability scoring
func (r *Registry) HandleCalculateScore(ctx context.Context, rawInput mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger := r.logger.With("tool", "calculate_score")

	address := strings.TrimSpace(mcp.ParseString(rawInput, "address", ""))
	mode := mcp.ParseString(rawInput, "transportation_mode", scoring.ModeWalking)
	userID := mcp.ParseString(rawInput, "user_id", "")

	if address == "" {
		return ErrorResponse("Address must not be empty"), nil
	}

	result, err := r.orchestrator.CalculateByAddress(ctx, address, mode, userID)
	if err != nil {
		return r.scoreError(logger, mode, err), nil
	}

	recordScoreOutcome(mode, result)
	return scoreResult(logger, result)
}

// CalculateScoreCoordinatesTool returns a tool definition for scoring a coordinate pair
func CalculateScoreCoordinatesTool() mcp.Tool {
	return mcp.NewTool("calculate_score_coordinates",
		mcp.WithDescription("Calculate the liveability score of a location given by coordinates"),
		mcp.WithNumber("latitude",
			mcp.Required(),
			mcp.Description("The latitude coordinate of the location"),
		),
		mcp.WithNumber("longitude",
			mcp.Required(),
			mcp.Description("The longitude coordinate of the location"),
		),
		mcp.WithString("address",
			mcp.Description("Optional display label for the location"),
			mcp.DefaultString(""),
		),
		mcp.WithString("transportation_mode",
			mcp.Description("Transportation mode determining the search radius: walking, cycling, driving or public_transport"),
			mcp.DefaultString(scoring.ModeWalking),
		),
		mcp.WithString("user_id",
			mcp.Description("Optional user identifier; when set the search is recorded in the history"),
			mcp.DefaultString(""),
		),
	)
}

// HandleCalculateScoreCoordinates implements coordinate based liveability scoring
func (r *Registry) HandleCalculateScoreCoordinates(ctx context.Context, rawInput mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger := r.logger.With("tool", "calculate_score_coordinates")

	latitude := mcp.ParseFloat64(rawInput, "latitude", 0)
	longitude := mcp.ParseFloat64(rawInput, "longitude", 0)
	address := strings.TrimSpace(mcp.ParseString(rawInput, "address", ""))
	mode := mcp.ParseString(rawInput, "transportation_mode", scoring.ModeWalking)
	userID := mcp.ParseString(rawInput, "user_id", "")

	if err := ValidateCoordinates(latitude, longitude); err != nil {
		return coordinateValidationError("calculate_score_coordinates", err), nil
	}

	result, err := r.orchestrator.CalculateAt(ctx, latitude, longitude, address, mode, userID)
	if err != nil {
		return r.scoreError(logger, mode, err), nil
	}

	recordScoreOutcome(mode, result)
	return scoreResult(logger, result)
}

// scoreError maps orchestrator failures to user-facing tool errors.
func (r *Registry) scoreError(logger *slog.Logger, mode string, err error) *mcp.CallToolResult {
	monitoring.RecordScoreCalculation(mode, "error", 0, 0)

	if errors.Is(err, scoring.ErrAddressNotFound) {
		logger.Info("address could not be geocoded")
		return ErrorResponse("Could not geocode the provided address")
	}

	var upstream *scoring.UpstreamError
	if errors.As(err, &upstream) {
		apiErr := NewAPIError(upstream.Service, http.StatusBadGateway,
			upstream.Err.Error(), upstreamGuidance(upstream.Service))
		logger.Error("upstream service failure", "service", upstream.Service, "error", apiErr)
		return ErrorResponse("Internal server error")
	}

	logger.Error("score calculation failed", "error", err)
	return ErrorResponse("Internal server error")
}

func recordScoreOutcome(mode string, result *scoring.Result) {
	outcome := "scored"
	if len(result.PoiScores) == 0 {
		outcome = "no_pois"
	}
	monitoring.RecordScoreCalculation(mode, outcome, result.OverallScore, len(result.PoiScores))
}

func scoreResult(logger *slog.Logger, result *scoring.Result) (*mcp.CallToolResult, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		logger.Error("failed to marshal result", "error", err)
		return ErrorResponse("Failed to generate result"), nil
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Narmer23/vicinia/pkg/monitoring"
	"github.com/Narmer23/vicinia/pkg/scoring"
	"github.com/Narmer23/vicinia/pkg/tracing"
)

// Registry contains all tool definitions and handlers
type Registry struct {
	logger       *slog.Logger
	orchestrator *scoring.Orchestrator
	reverser     Reverser
	history      HistoryReader
}

// NewRegistry creates a new tool registry. The reverser and history
// reader may be nil when the corresponding features are disabled.
func NewRegistry(logger *slog.Logger, orchestrator *scoring.Orchestrator, reverser Reverser, history HistoryReader) *Registry {
	return &Registry{
		logger:       logger,
		orchestrator: orchestrator,
		reverser:     reverser,
		history:      history,
	}
}

// ToolDefinition represents a vicinia MCP tool definition.
type ToolDefinition struct {
	Name        string
	Description string
	Tool        mcp.Tool
	Handler     func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// GetToolDefinitions returns the list of all available tools.
func (r *Registry) GetToolDefinitions() []ToolDefinition {
	defs := []ToolDefinition{
		// Version and capability tools
		{
			Name:        "get_version",
			Description: "Get the version information for this vicinia MCP",
			Tool:        GetVersionTool(),
			Handler:     HandleGetVersion,
		},

		// Scoring tools
		{
			Name:        "calculate_score",
			Description: "Calculate the liveability score of an address. Parameters: address (string), transportation_mode (string: walking, cycling, driving, public_transport), user_id (string, optional)",
			Tool:        CalculateScoreTool(),
			Handler:     r.HandleCalculateScore,
		},
		{
			Name:        "calculate_score_coordinates",
			Description: "Calculate the liveability score of a coordinate pair. Parameters: latitude (number), longitude (number), address (string, optional), transportation_mode (string), user_id (string, optional)",
			Tool:        CalculateScoreCoordinatesTool(),
			Handler:     r.HandleCalculateScoreCoordinates,
		},

		// Configuration tools
		{
			Name:        "list_formulas",
			Description: "List the scoring formulas configured per point of interest category",
			Tool:        ListFormulasTool(),
			Handler:     r.HandleListFormulas,
		},
		{
			Name:        "list_categories",
			Description: "List the point of interest categories considered by the score",
			Tool:        ListCategoriesTool(),
			Handler:     r.HandleListCategories,
		},

		// History tools
		{
			Name:        "get_search_history",
			Description: "Retrieve a user's past searches. Parameters: user_id (string), page (number), page_size (number)",
			Tool:        GetSearchHistoryTool(),
			Handler:     r.HandleGetSearchHistory,
		},

		// Geocoding tools
		{
			Name:        "reverse_geocode",
			Description: "Convert geographic coordinates to a street address. Parameters: latitude (number), longitude (number)",
			Tool:        ReverseGeocodeTool(),
			Handler:     r.HandleReverseGeocode,
		},
	}

	return defs
}

// RegisterTools registers all tools with the MCP server.
func (r *Registry) RegisterTools(mcpServer *server.MCPServer) {
	for _, def := range r.GetToolDefinitions() {
		r.logger.Info("registering tool", "name", def.Name)
		// Wrap handler with tracing and metrics
		tracedHandler := r.wrapWithTracing(def.Name, def.Handler)
		mcpServer.AddTool(def.Tool, tracedHandler)
	}
}

// wrapWithTracing wraps a tool handler with OpenTelemetry tracing
func (r *Registry) wrapWithTracing(toolName string, handler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// Start span
		spanName := fmt.Sprintf("mcp.tool.%s", toolName)
		ctx, span := tracing.StartSpan(ctx, spanName,
			trace.WithAttributes(
				attribute.String(tracing.AttrMCPToolName, toolName),
			),
		)
		defer span.End()

		// Record start time
		startTime := time.Now()

		// Execute handler
		result, err := handler(ctx, req)

		// Calculate duration
		duration := time.Since(startTime)
		durationMs := duration.Milliseconds()

		// Determine status
		status := tracing.StatusSuccess
		if err != nil {
			status = tracing.StatusError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		success := err == nil && (result == nil || !result.IsError)
		monitoring.RecordMCPRequest(toolName, duration, success)

		// Calculate result size
		resultSize := 0
		if result != nil && result.Content != nil {
			if data, marshalErr := json.Marshal(result.Content); marshalErr == nil {
				resultSize = len(data)
			}
		}

		// Set final attributes
		span.SetAttributes(
			attribute.String(tracing.AttrMCPToolStatus, status),
			attribute.Int64(tracing.AttrMCPToolDuration, durationMs),
			attribute.Int(tracing.AttrMCPResultSize, resultSize),
		)

		// Log for debugging
		r.logger.Debug("tool execution traced",
			"tool", toolName,
			"duration_ms", durationMs,
			"status", status,
			"result_size", resultSize,
		)

		return result, err
	}
}

// GetToolNames returns a list of all tool names.
func (r *Registry) GetToolNames() []string {
	defs := r.GetToolDefinitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// RegisterAll registers all tools with the MCP server.
func (r *Registry) RegisterAll(mcpServer *server.MCPServer) {
	r.RegisterTools(mcpServer)
}

package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Narmer23/vicinia/pkg/scoring"
)

// ListFormulasTool returns a tool definition for listing the scoring formulas
func ListFormulasTool() mcp.Tool {
	return mcp.NewTool("list_formulas",
		mcp.WithDescription("List the scoring formulas configured for each point of interest category"),
	)
}

// HandleListFormulas returns the configured scoring formulas
func (r *Registry) HandleListFormulas(ctx context.Context, rawInput mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger := r.logger.With("tool", "list_formulas")

	formulas := r.orchestrator.Registry().Formulas()
	output := struct {
		Formulas []scoring.Formula `json:"formulas"`
		Count    int               `json:"count"`
	}{
		Formulas: formulas,
		Count:    len(formulas),
	}

	resultBytes, err := json.Marshal(output)
	if err != nil {
		logger.Error("failed to marshal result", "error", err)
		return ErrorResponse("Failed to generate result"), nil
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}

// ListCategoriesTool returns a tool definition for listing the known categories
func ListCategoriesTool() mcp.Tool {
	return mcp.NewTool("list_categories",
		mcp.WithDescription("List the point of interest categories considered by the liveability score"),
	)
}

// HandleListCategories returns the known point of interest categories
func (r *Registry) HandleListCategories(ctx context.Context, rawInput mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger := r.logger.With("tool", "list_categories")

	output := struct {
		Categories []string `json:"categories"`
	}{
		Categories: r.orchestrator.Registry().Categories(),
	}

	resultBytes, err := json.Marshal(output)
	if err != nil {
		logger.Error("failed to marshal result", "error", err)
		return ErrorResponse("Failed to generate result"), nil
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}

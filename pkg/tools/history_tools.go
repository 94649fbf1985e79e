package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Narmer23/vicinia/pkg/history"
)

// HistoryReader lists recorded searches for a user.
type HistoryReader interface {
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]history.Record, int, error)
}

// GetSearchHistoryTool returns a tool definition for reading a user's search history
func GetSearchHistoryTool() mcp.Tool {
	return mcp.NewTool("get_search_history",
		mcp.WithDescription("Retrieve a user's past liveability searches, newest first"),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("The user identifier whose history to retrieve"),
		),
		mcp.WithNumber("page",
			mcp.Description("Page number, starting at 1"),
			mcp.DefaultNumber(1),
		),
		mcp.WithNumber("page_size",
			mcp.Description("Number of entries per page (max 100)"),
			mcp.DefaultNumber(20),
		),
	)
}

// HandleGetSearchHistory implements paginated history retrieval
func (r *Registry) HandleGetSearchHistory(ctx context.Context, rawInput mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logger := r.logger.With("tool", "get_search_history")

	userID := strings.TrimSpace(mcp.ParseString(rawInput, "user_id", ""))
	page := int(mcp.ParseFloat64(rawInput, "page", 1))
	pageSize := int(mcp.ParseFloat64(rawInput, "page_size", 20))

	if userID == "" {
		return ErrorResponse("User ID must not be empty"), nil
	}
	if r.history == nil {
		return ErrorResponse("Search history is not enabled"), nil
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	records, total, err := r.history.ListByUser(ctx, userID, page, pageSize)
	if err != nil {
		logger.Error("failed to read search history", "error", err)
		return ErrorResponse("Internal server error"), nil
	}
	if records == nil {
		records = []history.Record{}
	}

	output := struct {
		Items    []history.Record `json:"items"`
		Total    int              `json:"total"`
		Page     int              `json:"page"`
		PageSize int              `json:"pageSize"`
	}{
		Items:    records,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}

	resultBytes, err := json.Marshal(output)
	if err != nil {
		logger.Error("failed to marshal result", "error", err)
		return ErrorResponse("Failed to generate result"), nil
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}

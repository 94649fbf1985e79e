// Package server provides the MCP server implementation for the vicinia
// liveability scoring service, plus a small REST bridge over the same tools.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Narmer23/vicinia/pkg/tools"
	"github.com/Narmer23/vicinia/pkg/version"
)

const (
	// ServerName is the name of the MCP server
	ServerName = "vicinia-mcp-server"
)

// Server encapsulates the MCP server with the vicinia tools.
type Server struct {
	srv          *mcpserver.MCPServer
	logger       *slog.Logger
	stopCh       chan struct{}
	doneCh       chan struct{}
	running      bool
	mu           sync.Mutex
	once         sync.Once // Ensure we only close stopCh once
	ctxCancel    context.CancelFunc
	ctxGoroutine sync.Once // Ensure we only start one context goroutine
}

// NewServer creates a new vicinia MCP server with all tools registered.
func NewServer(registry *tools.Registry) (*Server, error) {
	logger := slog.Default()
	logger.Info("initializing vicinia MCP server",
		"name", ServerName,
		"version", version.BuildVersion)

	// Create MCP server with options
	srv := mcpserver.NewMCPServer(
		ServerName,
		version.BuildVersion,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)

	// Register all tools
	registry.RegisterAll(srv)

	return &Server{
		srv:    srv,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Run starts the MCP server using stdin/stdout for communication.
// This method blocks until the server is stopped or an error occurs.
func (s *Server) Run() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	// Run the server in a goroutine
	go func() {
		defer close(s.doneCh)
		err := mcpserver.ServeStdio(s.srv)
		if err != nil && err != io.EOF {
			s.logger.Error("server error", "error", err)
		}

		// Ensure the main Run loop is notified that the
		// server has finished processing.
		s.Shutdown()
	}()

	// Wait for stop signal
	<-s.stopCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	// Wait for server to finish before returning
	<-s.doneCh
	return nil
}

// RunWithContext starts the MCP server and allows for graceful shutdown via context.
// This method blocks until the context is canceled or an error occurs.
func (s *Server) RunWithContext(ctx context.Context) error {
	// Create a goroutine to watch the context for cancellation
	s.ctxGoroutine.Do(func() {
		// Create a derived context that we can cancel
		derived, cancel := context.WithCancel(ctx)
		s.ctxCancel = cancel

		go func() {
			select {
			case <-derived.Done():
				s.Shutdown()
			case <-s.stopCh:
				// Already being shut down
			}
		}()
	})

	return s.Run()
}

// Shutdown initiates a graceful shutdown of the server.
// It does not block and returns immediately.
// Using sync.Once to ensure we don't close an already closed channel.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	// Signal the server to stop using sync.Once to avoid panics
	// on double close of the channel
	s.once.Do(func() {
		close(s.stopCh)
	})

	// Cancel the context if we have one
	if s.ctxCancel != nil {
		s.ctxCancel()
	}
}

// WaitForShutdown blocks until the server has fully shut down.
func (s *Server) WaitForShutdown() {
	<-s.doneCh
}

// GetMCPServer returns the underlying MCP server instance for HTTP transport
func (s *Server) GetMCPServer() *mcpserver.MCPServer {
	return s.srv
}

// Handler is a REST bridge over the vicinia tools for clients that do not
// speak MCP.
type Handler struct {
	logger   *slog.Logger
	registry *tools.Registry
}

// NewHandler creates a new REST bridge handler
func NewHandler(logger *slog.Logger, registry *tools.Registry) *Handler {
	return &Handler{
		logger:   logger,
		registry: registry,
	}
}

// ServeHTTP implements the http.Handler interface
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	path := r.URL.Path
	method := r.Method

	// Add request ID to context
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = generateRequestID()
	}

	// Log request
	h.logger.Info("request started",
		"request_id", reqID,
		"method", method,
		"path", path,
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent())

	// Handle request
	var status int
	var err error

	switch {
	case path == "/health":
		status, err = h.handleHealth(w, r)
	case path == "/score":
		status, err = h.handleScore(w, r)
	case path == "/score/coordinates":
		status, err = h.handleScoreCoordinates(w, r)
	case path == "/formulas":
		status, err = h.handleFormulas(w, r)
	case path == "/categories":
		status, err = h.handleCategories(w, r)
	case path == "/history":
		status, err = h.handleHistory(w, r)
	case path == "/reverse_geocode":
		status, err = h.handleReverseGeocode(w, r)
	default:
		status = http.StatusNotFound
		http.NotFound(w, r)
	}

	// Log response
	duration := time.Since(start)
	if err != nil {
		h.logger.Error("request failed",
			"request_id", reqID,
			"method", method,
			"path", path,
			"status", status,
			"duration", duration,
			"error", err)
	} else {
		h.logger.Info("request completed",
			"request_id", reqID,
			"method", method,
			"path", path,
			"status", status,
			"duration", duration)
	}
}

// handleHealth handles health check requests
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) (int, error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		h.logger.Error("failed to write health response", "error", err)
		return http.StatusOK, err
	}

	return http.StatusOK, nil
}

// toolRequest builds a CallToolRequest for the REST bridge.
func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// writeToolResult converts a tool result to an HTTP response. Tool errors
// map to 400 except the generic internal failure message, which maps to 500.
func (h *Handler) writeToolResult(w http.ResponseWriter, result *mcp.CallToolResult) (int, error) {
	var content string
	for _, c := range result.Content {
		if t, ok := c.(mcp.TextContent); ok {
			content = t.Text
			break
		}
	}

	status := http.StatusOK
	if result.IsError {
		status = http.StatusBadRequest
		if content == "Internal server error" {
			status = http.StatusInternalServerError
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		errBody, _ := json.Marshal(map[string]string{"error": content})
		if _, err := w.Write(errBody); err != nil {
			h.logger.Error("failed to write error response", "error", err)
			return status, err
		}
		return status, nil
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(content)); err != nil {
		h.logger.Error("failed to write response", "error", err)
		return status, err
	}

	return status, nil
}

// handleScore handles address based scoring requests
func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) (int, error) {
	q := r.URL.Query()
	args := map[string]any{
		"address": q.Get("address"),
	}
	if mode := q.Get("transportation_mode"); mode != "" {
		args["transportation_mode"] = mode
	}
	if userID := q.Get("user_id"); userID != "" {
		args["user_id"] = userID
	}

	result, err := h.registry.HandleCalculateScore(r.Context(), toolRequest("calculate_score", args))
	if err != nil {
		return http.StatusInternalServerError, err
	}
	return h.writeToolResult(w, result)
}

// handleScoreCoordinates handles coordinate based scoring requests
func (h *Handler) handleScoreCoordinates(w http.ResponseWriter, r *http.Request) (int, error) {
	q := r.URL.Query()
	args := map[string]any{
		"latitude":  q.Get("latitude"),
		"longitude": q.Get("longitude"),
	}
	if address := q.Get("address"); address != "" {
		args["address"] = address
	}
	if mode := q.Get("transportation_mode"); mode != "" {
		args["transportation_mode"] = mode
	}
	if userID := q.Get("user_id"); userID != "" {
		args["user_id"] = userID
	}

	result, err := h.registry.HandleCalculateScoreCoordinates(r.Context(), toolRequest("calculate_score_coordinates", args))
	if err != nil {
		return http.StatusInternalServerError, err
	}
	return h.writeToolResult(w, result)
}

// handleFormulas handles formula listing requests
func (h *Handler) handleFormulas(w http.ResponseWriter, r *http.Request) (int, error) {
	result, err := h.registry.HandleListFormulas(r.Context(), toolRequest("list_formulas", nil))
	if err != nil {
		return http.StatusInternalServerError, err
	}
	return h.writeToolResult(w, result)
}

// handleCategories handles category listing requests
func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) (int, error) {
	result, err := h.registry.HandleListCategories(r.Context(), toolRequest("list_categories", nil))
	if err != nil {
		return http.StatusInternalServerError, err
	}
	return h.writeToolResult(w, result)
}

// handleHistory handles search history requests
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) (int, error) {
	q := r.URL.Query()
	args := map[string]any{
		"user_id": q.Get("user_id"),
	}
	if page := q.Get("page"); page != "" {
		args["page"] = page
	}
	if pageSize := q.Get("page_size"); pageSize != "" {
		args["page_size"] = pageSize
	}

	result, err := h.registry.HandleGetSearchHistory(r.Context(), toolRequest("get_search_history", args))
	if err != nil {
		return http.StatusInternalServerError, err
	}
	return h.writeToolResult(w, result)
}

// handleReverseGeocode handles reverse geocoding requests
func (h *Handler) handleReverseGeocode(w http.ResponseWriter, r *http.Request) (int, error) {
	q := r.URL.Query()
	args := map[string]any{
		"latitude":  q.Get("latitude"),
		"longitude": q.Get("longitude"),
	}

	result, err := h.registry.HandleReverseGeocode(r.Context(), toolRequest("reverse_geocode", args))
	if err != nil {
		return http.StatusInternalServerError, err
	}
	return h.writeToolResult(w, result)
}

// generateRequestID generates a unique request ID
func generateRequestID() string {
	return time.Now().Format("20060102150405.000000000")
}

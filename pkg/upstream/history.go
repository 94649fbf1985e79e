package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Narmer23/vicinia/pkg/scoring"
	"github.com/Narmer23/vicinia/pkg/tracing"
)

// HTTPHistorySink forwards scoring outcomes to a remote history service.
type HTTPHistorySink struct {
	baseURL string
	logger  *slog.Logger
}

// NewHTTPHistorySink creates a history sink posting to the service rooted
// at baseURL.
func NewHTTPHistorySink(baseURL string, logger *slog.Logger) *HTTPHistorySink {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHistorySink{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Record posts one history entry. The caller treats failures as
// non-fatal.
func (s *HTTPHistorySink) Record(ctx context.Context, entry scoring.HistoryEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding history entry: %w", err)
	}

	req, err := NewRequestWithUserAgent(ctx, http.MethodPost, s.baseURL+"/api/history", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating history request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := MonitoredDoRequest(ctx, tracing.ServiceHistory, "record_history", req)
	if err != nil {
		return fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("history service returned status %d", resp.StatusCode)
	}
	return nil
}

// CheckHealth reports whether the history service is responsive.
func (s *HTTPHistorySink) CheckHealth() error {
	return checkHealth(tracing.ServiceHistory, s.baseURL+"/health")
}

// Package registration announces the server to an external service
// registry. Registration is optional and fails gracefully, the server
// keeps working even when the registry is unreachable.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is the default interval between heartbeats.
const DefaultHeartbeatInterval = 30 * time.Second

// DefaultTimeout is the default timeout for registry requests.
const DefaultTimeout = 5 * time.Second

// Config holds the registration settings. An empty RegistryURL leaves
// the client inert.
type Config struct {
	// RegistryURL is the base URL of the registry endpoint.
	RegistryURL string

	// ServiceName is the unique name of this service.
	ServiceName string

	// ServiceType describes the kind of service, defaults to "mcp".
	ServiceType string

	// ServiceURL is the external URL where this service is reachable.
	ServiceURL string

	// HealthURL is the URL the registry should poll for liveness.
	HealthURL string

	// Version is the service version reported to the registry.
	Version string

	// Tools lists the MCP tools this service exposes.
	Tools []string

	// HeartbeatInterval is how often to re-register, defaults to 30s.
	HeartbeatInterval time.Duration

	// Timeout bounds each registry request, defaults to 5s.
	Timeout time.Duration
}

// registerRequest is the wire format sent to the registry.
type registerRequest struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	HealthURL string   `json:"health_url"`
	Version   string   `json:"version"`
	Tools     []string `json:"tools,omitempty"`
}

// registerResponse is the registry's acknowledgement.
type registerResponse struct {
	Status          string    `json:"status"`
	Name            string    `json:"name"`
	TTLSeconds      int       `json:"ttl_seconds"`
	NextHeartbeatBy time.Time `json:"next_heartbeat_by"`
}

// Client keeps a registration alive with periodic heartbeats.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	registered bool
	mu         sync.RWMutex
}

// NewClient creates a registration client. A client with an empty
// RegistryURL is a no-op.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ServiceType == "" {
		cfg.ServiceType = "mcp"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Start begins the registration and heartbeat loop. Non-blocking. With
// no registry URL configured this is a no-op.
func (c *Client) Start(ctx context.Context) {
	if c.cfg.RegistryURL == "" {
		c.logger.Info("service registration disabled")
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.heartbeatLoop(ctx)
}

// Stop deregisters from the registry and stops the heartbeat loop.
func (c *Client) Stop() {
	if c.cancel == nil {
		return
	}

	c.deregister()
	c.cancel()
	c.wg.Wait()
}

// IsRegistered reports whether the last registration attempt succeeded.
func (c *Client) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	c.register()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.register()
		case <-ctx.Done():
			return
		}
	}
}

// register sends a registration request, which doubles as the heartbeat.
func (c *Client) register() {
	req := registerRequest{
		Name:      c.cfg.ServiceName,
		Type:      c.cfg.ServiceType,
		URL:       c.cfg.ServiceURL,
		HealthURL: c.cfg.HealthURL,
		Version:   c.cfg.Version,
		Tools:     c.cfg.Tools,
	}

	body, err := json.Marshal(req)
	if err != nil {
		c.logger.Error("failed to marshal registration request", "error", err)
		c.setRegistered(false)
		return
	}

	url := fmt.Sprintf("%s/api/register", c.cfg.RegistryURL)
	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("failed to create registration request", "error", err)
		c.setRegistered(false)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("registration failed (registry may be unavailable)", "error", err)
		c.setRegistered(false)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		c.logger.Warn("registration failed", "status", resp.StatusCode, "body", string(bodyBytes))
		c.setRegistered(false)
		return
	}

	var regResp registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&regResp); err != nil {
		c.logger.Warn("failed to decode registration response", "error", err)
		c.setRegistered(false)
		return
	}

	wasRegistered := c.IsRegistered()
	c.setRegistered(true)

	if !wasRegistered {
		c.logger.Info("registered with service registry",
			"name", c.cfg.ServiceName,
			"ttl_seconds", regResp.TTLSeconds,
		)
	}
}

func (c *Client) deregister() {
	if !c.IsRegistered() {
		return
	}

	url := fmt.Sprintf("%s/api/register/%s", c.cfg.RegistryURL, c.cfg.ServiceName)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, url, nil)
	if err != nil {
		c.logger.Debug("failed to create deregistration request", "error", err)
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("deregistration failed (registry may be unavailable)", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		c.logger.Info("deregistered from service registry", "name", c.cfg.ServiceName)
	}

	c.setRegistered(false)
}

func (c *Client) setRegistered(registered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = registered
}

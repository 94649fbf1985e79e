package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Narmer23/vicinia/pkg/history"
	"github.com/Narmer23/vicinia/pkg/monitoring"
	"github.com/Narmer23/vicinia/pkg/registration"
	"github.com/Narmer23/vicinia/pkg/scoring"
	"github.com/Narmer23/vicinia/pkg/server"
	"github.com/Narmer23/vicinia/pkg/tools"
	"github.com/Narmer23/vicinia/pkg/tracing"
	"github.com/Narmer23/vicinia/pkg/upstream"
	ver "github.com/Narmer23/vicinia/pkg/version"
)

var (
	showVersionFlag bool
	debug           bool
	generateConfig  string
	userAgent       string
	mergeOnly       bool

	// Upstream service endpoints
	nominatimURL  string
	overpassURL   string
	poiSource     string
	poiServiceURL string

	// History flags
	historyDB  string
	historyURL string

	// HTTP transport flags
	enableHTTP  bool
	httpOnly    bool
	httpAddr    string
	httpBaseURL string

	// Monitoring flags
	enableMonitoring bool
	monitoringAddr   string

	// Service registry flags
	registryURL string

	// Rate limits for each service
	nominatimRPS   float64
	nominatimBurst int
	overpassRPS    float64
	overpassBurst  int
	poiRPS         float64
	poiBurst       int
)

func init() {
	// Load .env before flag defaults are computed
	_ = godotenv.Load()

	flag.BoolVar(&showVersionFlag, "version", false, "Display version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.StringVar(&generateConfig, "generate-config", "", "Generate an MCP client config file at the specified path")
	flag.StringVar(&userAgent, "user-agent", upstream.DefaultUserAgent, "User-Agent string for upstream API requests")
	flag.BoolVar(&mergeOnly, "merge-only", false, "Only merge new config, don't overwrite existing")

	// Upstream endpoints
	flag.StringVar(&nominatimURL, "nominatim-url", envOr("VICINIA_NOMINATIM_URL", upstream.NominatimBaseURL), "Nominatim base URL")
	flag.StringVar(&overpassURL, "overpass-url", envOr("VICINIA_OVERPASS_URL", upstream.OverpassBaseURL), "Overpass API URL")
	flag.StringVar(&poiSource, "poi-source", envOr("VICINIA_POI_SOURCE", "overpass"), "POI source backend: overpass or http")
	flag.StringVar(&poiServiceURL, "poi-service-url", envOr("VICINIA_POI_SERVICE_URL", ""), "Base URL of the POI catalog service (required with -poi-source=http)")

	// History backends
	flag.StringVar(&historyDB, "history-db", envOr("VICINIA_HISTORY_DB", "vicinia.db"), "Path to the SQLite search history database (empty disables local history)")
	flag.StringVar(&historyURL, "history-url", envOr("VICINIA_HISTORY_URL", ""), "Base URL of a remote history service (overrides -history-db for writes)")

	// HTTP transport flags
	flag.BoolVar(&enableHTTP, "enable-http", false, "Enable HTTP+SSE transport (in addition to stdio)")
	flag.BoolVar(&httpOnly, "http-only", false, "Run HTTP transport only, skip stdio (requires --enable-http)")
	flag.StringVar(&httpAddr, "http-addr", ":7082", "HTTP server address")
	flag.StringVar(&httpBaseURL, "http-base-url", "", "Base URL for HTTP transport (auto-detected if empty)")

	// Monitoring flags
	flag.BoolVar(&enableMonitoring, "enable-monitoring", true, "Enable Prometheus metrics and health endpoints")
	flag.StringVar(&monitoringAddr, "monitoring-addr", ":9090", "Monitoring server address")

	// Service registry
	flag.StringVar(&registryURL, "registry-url", envOr("VICINIA_REGISTRY_URL", ""), "Base URL of a service registry to announce this server to (empty disables)")

	// Nominatim rate limits
	flag.Float64Var(&nominatimRPS, "nominatim-rps", 1.0, "Nominatim rate limit in requests per second")
	flag.IntVar(&nominatimBurst, "nominatim-burst", 1, "Nominatim rate limit burst size")

	// Overpass rate limits
	flag.Float64Var(&overpassRPS, "overpass-rps", 1.0, "Overpass rate limit in requests per second")
	flag.IntVar(&overpassBurst, "overpass-burst", 1, "Overpass rate limit burst size")

	// POI catalog service rate limits
	flag.Float64Var(&poiRPS, "poi-rps", 10.0, "POI catalog service rate limit in requests per second")
	flag.IntVar(&poiBurst, "poi-burst", 10, "POI catalog service rate limit burst size")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	flag.Parse()

	// Configure logging
	var logLevel slog.Level
	if debug {
		logLevel = slog.LevelDebug
	} else {
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry tracing
	ctx := context.Background()
	shutdownTracing, err := tracing.InitTracing(ctx, ver.BuildVersion)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		// Continue without tracing - it's not critical
	} else {
		// Ensure tracing is shut down on exit
		defer func() {
			if err := shutdownTracing(ctx); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()

		if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
			logger.Info("OpenTelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	// Show version and exit if requested
	if showVersionFlag {
		fmt.Println(ver.String())
		return
	}

	// Generate MCP client config if requested
	if generateConfig != "" {
		if err := generateClientConfig(generateConfig, mergeOnly); err != nil {
			logger.Error("failed to generate config", "error", err)
			os.Exit(1)
		}
		logger.Info("successfully generated MCP client config", "path", generateConfig)
		return
	}

	// Update global user agent if specified
	if userAgent != upstream.DefaultUserAgent {
		upstream.SetUserAgent(userAgent)
	}

	// Update rate limits if specified
	if nominatimRPS != 1.0 || nominatimBurst != 1 {
		upstream.UpdateRateLimits(tracing.ServiceNominatim, nominatimRPS, nominatimBurst)
	}
	if overpassRPS != 1.0 || overpassBurst != 1 {
		upstream.UpdateRateLimits(tracing.ServiceOverpass, overpassRPS, overpassBurst)
	}
	if poiRPS != 10.0 || poiBurst != 10 {
		upstream.UpdateRateLimits(tracing.ServicePOI, poiRPS, poiBurst)
	}

	logger.Info("starting vicinia MCP server",
		"version", ver.BuildVersion,
		"log_level", logLevel.String(),
		"user_agent", userAgent,
		"poi_source", poiSource,
		"nominatim_rps", nominatimRPS,
		"overpass_rps", overpassRPS,
		"http_enabled", enableHTTP,
		"monitoring_enabled", enableMonitoring,
		"monitoring_addr", monitoringAddr)

	// Initialize health checker
	var healthChecker *monitoring.HealthChecker
	if enableMonitoring {
		healthChecker = monitoring.NewHealthChecker(monitoring.ServiceName, ver.BuildVersion)
		defer healthChecker.Shutdown()

		// Set up monitoring hooks for the upstream client
		upstream.SetMonitoringHooks(&upstream.MonitoringHooks{
			OnRequest: func(service, operation string) {
				monitoring.RecordExternalServiceRequest(service, operation, 0, false) // Start request
			},
			OnResponse: func(service, operation string, duration time.Duration, success bool) {
				monitoring.RecordExternalServiceRequest(service, operation, duration, success)
			},
			OnRateLimit: func(service string, waitTime time.Duration) {
				monitoring.RecordRateLimitWait(service, waitTime)
				monitoring.RecordRateLimitExceeded(service)
			},
			OnError: func(service, errorType string) {
				monitoring.RecordError(service, errorType)
			},
		})
	}

	// Build the scoring collaborators
	geocoder := upstream.NewNominatimGeocoder(nominatimURL, logger)

	var poiProvider scoring.POISource
	var poiHealth func() error
	switch poiSource {
	case "overpass":
		src := upstream.NewOverpassSource(overpassURL, logger)
		poiProvider = src
		poiHealth = src.CheckHealth
	case "http":
		if poiServiceURL == "" {
			logger.Error("-poi-service-url is required with -poi-source=http")
			os.Exit(1)
		}
		src := upstream.NewPOIServiceSource(poiServiceURL, logger)
		poiProvider = src
		poiHealth = src.CheckHealth
	default:
		logger.Error("unknown POI source", "poi_source", poiSource)
		os.Exit(1)
	}

	// History: a remote sink takes precedence for writes; the local store
	// additionally serves the get_search_history tool.
	var historySink scoring.HistorySink
	var historyReader tools.HistoryReader
	var historyHealth func() error
	if historyURL != "" {
		sink := upstream.NewHTTPHistorySink(historyURL, logger)
		historySink = sink
		historyHealth = sink.CheckHealth
	} else if historyDB != "" {
		store, err := history.Open(historyDB, logger)
		if err != nil {
			logger.Error("failed to open history database", "path", historyDB, "error", err)
			os.Exit(1)
		}
		defer store.Close()
		historySink = store
		historyReader = store
	} else {
		logger.Info("search history disabled")
	}

	orchestrator := scoring.NewOrchestrator(scoring.NewRegistry(), geocoder, poiProvider, historySink, logger)
	registry := tools.NewRegistry(logger, orchestrator, geocoder, historyReader)

	// Create a new server instance
	s, err := server.NewServer(registry)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Start monitoring external services if health checker is enabled
	if healthChecker != nil {
		startExternalServiceMonitoring(healthChecker, logger, geocoder.CheckHealth, poiHealth, historyHealth)
	}

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start monitoring server if enabled (Prometheus metrics only)
	var monitoringServer *http.Server
	if enableMonitoring {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		monitoringServer = &http.Server{
			Addr:              monitoringAddr,
			Handler:           mux,
			ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		}

		go func() {
			logger.Info("starting Prometheus metrics server", "addr", monitoringAddr)
			if err := monitoringServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("monitoring server error", "error", err)
			}
		}()

		// Setup graceful shutdown for monitoring server
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := monitoringServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown monitoring server", "error", err)
			}
		}()
	}

	// Start HTTP transport in background if enabled (non-blocking)
	var httpTransport *server.HTTPTransport
	if enableHTTP {
		config := server.DefaultHTTPTransportConfig()
		config.Addr = httpAddr
		config.BaseURL = httpBaseURL

		rest := server.NewHandler(logger, registry)
		httpTransport = server.NewHTTPTransport(s.GetMCPServer(), rest, config, logger)

		// Set health checker if enabled
		if healthChecker != nil {
			httpTransport.SetHealthChecker(healthChecker)
		}

		// Start HTTP transport in goroutine (non-blocking)
		go func() {
			logger.Info("starting HTTP transport", "addr", httpAddr)
			if err := httpTransport.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP transport error", "error", err)
			}
		}()

		// Setup graceful shutdown for HTTP transport
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := httpTransport.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown HTTP transport", "error", err)
			}
		}()
	}

	// Announce the server to a service registry if configured
	if registryURL != "" {
		if !enableHTTP {
			logger.Warn("registry-url requires --enable-http, skipping registration")
		} else {
			baseURL := httpBaseURL
			if baseURL == "" {
				baseURL = "http://localhost" + httpAddr
			}
			regClient := registration.NewClient(registration.Config{
				RegistryURL: registryURL,
				ServiceName: monitoring.ServiceName,
				ServiceURL:  baseURL,
				HealthURL:   baseURL + "/health",
				Version:     ver.BuildVersion,
				Tools:       registry.GetToolNames(),
			}, logger)
			regClient.Start(ctx)
			defer regClient.Stop()
		}
	}

	// Transport startup logic:
	// - If HTTP is NOT enabled: Run stdio on main thread (blocking) - default behavior
	// - If HTTP IS enabled and httpOnly is false: Run stdio in goroutine (non-blocking), then wait for shutdown
	// - If HTTP IS enabled and httpOnly is true: Skip stdio, just wait for shutdown
	if !enableHTTP {
		// STDIO-only mode (default) - run blocking on main thread
		logger.Info("transport_enabled", "type", "stdio", "mode", "blocking")
		if err := s.RunWithContext(ctx); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	} else if httpOnly {
		// HTTP-only mode - skip stdio transport entirely
		logger.Info("server_ready", "transports", []string{"http"}, "http_only", true)
		<-ctx.Done()
		logger.Info("shutdown signal received")
	} else {
		// HTTP enabled with stdio - run stdio in goroutine so both transports work
		go func() {
			logger.Info("transport_enabled", "type", "stdio", "mode", "background")
			if err := s.RunWithContext(ctx); err != nil {
				logger.Error("stdio transport error", "error", err)
				// Don't exit - HTTP transport may still be useful
			}
		}()

		// Wait for shutdown signal
		logger.Info("server_ready", "transports", []string{"stdio", "http"})
		<-ctx.Done()
		logger.Info("shutdown signal received")
	}

	logger.Info("server stopped")
}

// generateClientConfig generates an MCP client configuration pointing at
// this binary over stdio.
func generateClientConfig(path string, mergeOnly bool) error {
	// Sanity check the path
	if path == "" {
		return fmt.Errorf("config path cannot be empty")
	}
	if !strings.HasSuffix(path, ".json") {
		return fmt.Errorf("config file must have .json extension")
	}

	// Clean the path and validate it's safe
	cleanPath := filepath.Clean(path)
	if err := validateSafePath(cleanPath); err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}

	// Create config directory if it doesn't exist
	configDir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Read existing config if it exists and mergeOnly is true
	var existingConfig map[string]interface{}
	if mergeOnly {
		if data, err := os.ReadFile(cleanPath); err == nil {
			if err := json.Unmarshal(data, &existingConfig); err != nil {
				return fmt.Errorf("failed to parse existing config: %w", err)
			}
		}
	}

	binPath, err := os.Executable()
	if err != nil {
		binPath = "vicinia"
	}

	config := map[string]interface{}{
		"mcpServers": map[string]interface{}{
			"vicinia": map[string]interface{}{
				"command": binPath,
				"args":    []string{},
			},
		},
	}

	// Merge with existing config if needed
	if mergeOnly && existingConfig != nil {
		for k, v := range existingConfig {
			if _, exists := config[k]; !exists {
				config[k] = v
			}
		}
	}

	// Write config file
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(cleanPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// validateSafePath validates that a path is safe to write to within the current working directory
func validateSafePath(path string) error {
	// Get current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current working directory: %w", err)
	}

	// Resolve the absolute path
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	// Check if the resolved path is within the current working directory
	relPath, err := filepath.Rel(cwd, absPath)
	if err != nil {
		return fmt.Errorf("failed to determine relative path: %w", err)
	}

	// Reject paths that go outside the working directory
	if strings.HasPrefix(relPath, "..") || strings.Contains(relPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %s", relPath)
	}

	// Additional safety checks
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths are not allowed for security reasons")
	}

	return nil
}

// startExternalServiceMonitoring starts monitoring the upstream services
func startExternalServiceMonitoring(healthChecker *monitoring.HealthChecker, logger *slog.Logger, nominatimHealth, poiHealth, historyHealth func() error) {
	services := []string{"nominatim", "poi"}

	nominatimMonitor := monitoring.NewConnectionMonitor(
		"nominatim",
		healthChecker,
		nominatimHealth,
		30*time.Second,
	)
	nominatimMonitor.Start()

	poiMonitor := monitoring.NewConnectionMonitor(
		"poi",
		healthChecker,
		poiHealth,
		30*time.Second,
	)
	poiMonitor.Start()

	if historyHealth != nil {
		historyMonitor := monitoring.NewConnectionMonitor(
			"history",
			healthChecker,
			historyHealth,
			30*time.Second,
		)
		historyMonitor.Start()
		services = append(services, "history")
	}

	logger.Info("started external service monitoring",
		"services", services,
		"check_interval", "30s")
}

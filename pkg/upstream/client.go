// Package upstream provides HTTP clients for the external services the
// scoring pipeline depends on: Nominatim geocoding, Overpass POI lookup,
// an optional POI catalog service and an optional history service.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Narmer23/vicinia/pkg/core"
	"github.com/Narmer23/vicinia/pkg/tracing"
)

const (
	// DefaultUserAgent is the default User-Agent string
	DefaultUserAgent = "vicinia/0.1.0"
)

var (
	// Global HTTP client with connection pooling
	httpClient *http.Client

	// Rate limiters for each service
	limitersMu sync.RWMutex
	limiters   map[string]*rate.Limiter

	// User agent string
	userAgent     string
	userAgentLock sync.RWMutex

	// Retry behavior for monitored requests
	retryOptions   = core.DefaultRetryOptions
	retryOptionsMu sync.RWMutex
)

func init() {
	httpClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: 30 * time.Second,
	}

	initRateLimiters()
	SetUserAgent(DefaultUserAgent)
}

// initRateLimiters initializes the rate limiters with default values.
// Nominatim and Overpass are public shared infrastructure and default to
// 1 request per second per their usage policies.
func initRateLimiters() {
	limiters = map[string]*rate.Limiter{
		tracing.ServiceNominatim: rate.NewLimiter(rate.Limit(1), 1),
		tracing.ServiceOverpass:  rate.NewLimiter(rate.Limit(1), 1),
		tracing.ServicePOI:       rate.NewLimiter(rate.Limit(10), 10),
		tracing.ServiceHistory:   rate.NewLimiter(rate.Limit(10), 10),
	}
}

// UpdateRateLimits replaces the rate limiter for a service.
func UpdateRateLimits(service string, rps float64, burst int) {
	limitersMu.Lock()
	defer limitersMu.Unlock()
	limiters[service] = rate.NewLimiter(rate.Limit(rps), burst)
}

// limiterFor returns the rate limiter for a service, or nil when the
// service is not rate limited.
func limiterFor(service string) *rate.Limiter {
	limitersMu.RLock()
	defer limitersMu.RUnlock()
	return limiters[service]
}

// SetUserAgent sets the User-Agent string
func SetUserAgent(ua string) {
	userAgentLock.Lock()
	defer userAgentLock.Unlock()
	userAgent = ua
}

// GetUserAgent returns the current User-Agent string
func GetUserAgent() string {
	userAgentLock.RLock()
	defer userAgentLock.RUnlock()
	return userAgent
}

// GetClient returns the global HTTP client
func GetClient(ctx context.Context) *http.Client {
	return httpClient
}

// SetRetryOptions replaces the retry behavior for monitored requests.
func SetRetryOptions(options core.RetryOptions) {
	retryOptionsMu.Lock()
	defer retryOptionsMu.Unlock()
	retryOptions = options
}

func getRetryOptions() core.RetryOptions {
	retryOptionsMu.RLock()
	defer retryOptionsMu.RUnlock()
	return retryOptions
}

// retryFactory rebuilds a request per retry attempt. Requests with bodies
// need GetBody so each attempt reads a fresh body.
func retryFactory(ctx context.Context, req *http.Request) core.RequestFactory {
	return func() (*http.Request, error) {
		clone := req.Clone(ctx)
		if req.Body != nil {
			if req.GetBody == nil {
				return nil, fmt.Errorf("request body is not replayable")
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rebuilding request body: %w", err)
			}
			clone.Body = body
		}
		return clone, nil
	}
}

// waitForRateLimit waits for the service's rate limiter
func waitForRateLimit(ctx context.Context, service string) error {
	limiter := limiterFor(service)
	if limiter == nil {
		return nil
	}

	if !limiter.Allow() {
		startWait := time.Now()

		tracing.AddEvent(ctx, "rate_limit_wait",
			trace.WithAttributes(
				attribute.String(tracing.AttrRateLimitService, service),
			),
		)

		err := limiter.Wait(ctx)

		waitDuration := time.Since(startWait)
		tracing.SetAttributes(ctx,
			attribute.String(tracing.AttrRateLimitService, service),
			attribute.Int64(tracing.AttrRateLimitWaitMs, waitDuration.Milliseconds()),
		)

		if err != nil {
			return err
		}
	}

	return nil
}

// DoRequest performs an HTTP request with rate limiting for the named
// service.
func DoRequest(ctx context.Context, service string, req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", GetUserAgent())

	if err := waitForRateLimit(ctx, service); err != nil {
		return nil, err
	}

	return httpClient.Do(req)
}

// MonitoredDoRequest performs an HTTP request with rate limiting,
// monitoring hooks and transport-level retry with backoff.
func MonitoredDoRequest(ctx context.Context, service, operation string, req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", GetUserAgent())

	hooks := getMonitoringHooks()
	if hooks != nil && hooks.OnRequest != nil {
		hooks.OnRequest(service, operation)
	}

	start := time.Now()

	if err := waitForRateLimit(ctx, service); err != nil {
		if hooks != nil && hooks.OnError != nil {
			hooks.OnError(service, "rate_limit_wait_error")
		}
		return nil, err
	}

	// Track rate limit wait time
	waitTime := time.Since(start)
	if waitTime > 100*time.Millisecond {
		if hooks != nil && hooks.OnRateLimit != nil {
			hooks.OnRateLimit(service, waitTime)
		}
	}

	requestStart := time.Now()
	resp, err := core.WithRetryFactory(ctx, retryFactory(ctx, req), httpClient, getRetryOptions())
	duration := time.Since(requestStart)

	success := err == nil && resp != nil && resp.StatusCode < 400

	if hooks != nil && hooks.OnResponse != nil {
		hooks.OnResponse(service, operation, duration, success)
	}

	if err != nil && hooks != nil && hooks.OnError != nil {
		hooks.OnError(service, "request_error")
	}

	return resp, err
}

// NewRequestWithUserAgent creates a new HTTP request with proper User-Agent
// header. Nominatim's usage policy requires an identifying User-Agent.
func NewRequestWithUserAgent(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", GetUserAgent())
	return req, nil
}

// checkHealth performs a GET against a service URL and reports whether the
// service responds without a server error.
func checkHealth(service, url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create %s health check request: %w", service, err)
	}

	resp, err := DoRequest(ctx, service, req)
	if err != nil {
		return fmt.Errorf("%s health check failed: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s health check returned status %d", service, resp.StatusCode)
	}

	return nil
}

// Package core provides shared utilities for the vicinia MCP tools.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Narmer23/vicinia/pkg/tracing"
)

// RetryOptions configures retry behavior for HTTP requests
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions provides sensible defaults for retries
var DefaultRetryOptions = RetryOptions{
	MaxAttempts:  3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Multiplier:   2.0,
}

// DefaultClient provides a pre-configured HTTP client with secure defaults
var DefaultClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// RequestFactory creates a fresh HTTP request for each attempt. Requests
// with bodies must be rebuilt per attempt, so retries always go through a
// factory.
type RequestFactory func() (*http.Request, error)

// RetryableStatus reports whether an HTTP status is worth retrying.
// Client errors are final; rate limiting and server errors are transient.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// WithRetryFactory performs HTTP requests created by a factory with
// exponential backoff retry logic. Only transport errors and retryable
// statuses are retried; any other response is returned to the caller,
// whose status handling stays intact.
func WithRetryFactory(ctx context.Context, factory RequestFactory, client *http.Client, options RetryOptions) (*http.Response, error) {
	ctx, span := tracing.StartSpan(ctx, "http.request_factory",
		trace.WithAttributes(
			attribute.Int("http.retry.max_attempts", options.MaxAttempts),
		),
	)
	defer span.End()

	logger := slog.Default()
	if client == nil {
		client = DefaultClient
	}

	var lastErr error
	delay := options.InitialDelay

	for attempt := 0; attempt < options.MaxAttempts; attempt++ {
		if attempt > 0 {
			tracing.AddEvent(ctx, "retry_attempt",
				trace.WithAttributes(
					attribute.Int("attempt", attempt+1),
					attribute.Int64("delay_ms", delay.Milliseconds()),
					attribute.String("error", fmt.Sprintf("%v", lastErr)),
				),
			)

			logger.Info("retrying request",
				"attempt", attempt+1,
				"max_attempts", options.MaxAttempts,
				"delay", delay,
				"last_error", lastErr,
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				span.SetStatus(codes.Error, "request cancelled")
				return nil, ctx.Err()
			}

			delay = time.Duration(float64(delay) * options.Multiplier)
			if delay > options.MaxDelay {
				delay = options.MaxDelay
			}
		}

		req, err := factory()
		if err != nil {
			lastErr = NewError(ErrInternalError, "failed to create request").
				WithGuidance("Unable to create HTTP request. Check the request parameters")
			logger.Error("request creation failed", "error", err, "attempt", attempt+1)
			continue
		}
		req = req.WithContext(ctx)

		resp, err := client.Do(req)
		if err == nil && !RetryableStatus(resp.StatusCode) {
			span.SetAttributes(
				attribute.String(tracing.AttrHTTPMethod, req.Method),
				attribute.String("http.url", req.URL.String()),
				attribute.Int(tracing.AttrHTTPStatusCode, resp.StatusCode),
				attribute.Int("http.retry.attempts", attempt+1),
			)
			span.SetStatus(codes.Ok, "")
			return resp, nil
		}

		if err != nil {
			lastErr = err
			logger.Error("request failed",
				"error", err,
				"attempt", attempt+1,
				"url", req.URL.String(),
			)
		} else {
			lastErr = ServiceError("HTTP", resp.StatusCode, fmt.Sprintf("HTTP status %d", resp.StatusCode))
			logger.Error("request returned error status",
				"status", resp.StatusCode,
				"attempt", attempt+1,
				"url", req.URL.String(),
			)
			if err := resp.Body.Close(); err != nil {
				logger.Warn("failed to close response body", "error", err)
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "max retries exceeded")
	span.SetAttributes(
		attribute.Int("http.retry.attempts", options.MaxAttempts),
		attribute.String("http.retry.final_error", fmt.Sprintf("%v", lastErr)),
	)

	if toolErr, ok := lastErr.(*ToolError); ok {
		return nil, toolErr.WithGuidance("Maximum retry attempts reached. " + toolErr.Guidance)
	}
	return nil, NewError(ErrNetworkError, "max retries reached").
		WithGuidance("The request failed after multiple attempts. Please try again later")
}

// DoWithRetry performs a bodyless HTTP request with default retry options
func DoWithRetry(ctx context.Context, req *http.Request, client *http.Client) (*http.Response, error) {
	if req.Body != nil {
		return nil, NewError(ErrInternalError, "cannot retry request with non-nil body").
			WithGuidance("Use WithRetryFactory for requests with bodies")
	}
	factory := func() (*http.Request, error) {
		return req.Clone(req.Context()), nil
	}
	return WithRetryFactory(ctx, factory, client, DefaultRetryOptions)
}

package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithRetryFactorySucceedsAfterFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	factory := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, server.URL, nil)
	}

	resp, err := WithRetryFactory(context.Background(), factory, nil, fastRetryOptions())
	if err != nil {
		t.Fatalf("WithRetryFactory: %v", err)
	}
	resp.Body.Close()

	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestWithRetryFactoryExhaustsAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	factory := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, server.URL, nil)
	}

	_, err := WithRetryFactory(context.Background(), factory, nil, fastRetryOptions())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}

	toolErr, ok := err.(*ToolError)
	if !ok {
		t.Fatalf("err type = %T, want *ToolError", err)
	}
	if toolErr.Guidance == "" {
		t.Error("exhausted retry error missing guidance")
	}
}

func TestWithRetryFactoryReturnsClientErrorsUnretried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	factory := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, server.URL, nil)
	}

	resp, err := WithRetryFactory(context.Background(), factory, nil, fastRetryOptions())
	if err != nil {
		t.Fatalf("WithRetryFactory: %v", err)
	}
	defer resp.Body.Close()

	// Client errors are final. The caller gets the response back and
	// decides what a 404 means.
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1 (client errors must not be retried)", n)
	}
}

func TestWithRetryFactoryHonorsCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	factory := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, server.URL, nil)
	}

	options := fastRetryOptions()
	options.InitialDelay = time.Second

	_, err := WithRetryFactory(ctx, factory, nil, options)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestDoWithRetryRejectsBody(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "http://example.invalid", strings.NewReader("payload"))

	if _, err := DoWithRetry(context.Background(), req, nil); err == nil {
		t.Error("expected error for request with body")
	}
}

package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Narmer23/vicinia/pkg/tracing"
)

func TestUserAgent(t *testing.T) {
	old := GetUserAgent()
	defer SetUserAgent(old)

	SetUserAgent("vicinia-test/1.0")
	if got := GetUserAgent(); got != "vicinia-test/1.0" {
		t.Errorf("GetUserAgent() = %q", got)
	}
}

func TestDoRequestSetsUserAgent(t *testing.T) {
	old := GetUserAgent()
	defer SetUserAgent(old)
	SetUserAgent("vicinia-test/1.0")

	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	resp, err := DoRequest(context.Background(), tracing.ServicePOI, req)
	if err != nil {
		t.Fatalf("DoRequest: %v", err)
	}
	resp.Body.Close()

	if gotUA != "vicinia-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestMonitoredDoRequestHooks(t *testing.T) {
	defer SetMonitoringHooks(nil)

	var requestCalled, responseCalled bool
	var gotService, gotOperation string
	var gotSuccess bool

	SetMonitoringHooks(&MonitoringHooks{
		OnRequest: func(service, operation string) {
			requestCalled = true
			gotService, gotOperation = service, operation
		},
		OnResponse: func(service, operation string, duration time.Duration, success bool) {
			responseCalled = true
			gotSuccess = success
		},
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	resp, err := MonitoredDoRequest(context.Background(), tracing.ServicePOI, "test_op", req)
	if err != nil {
		t.Fatalf("MonitoredDoRequest: %v", err)
	}
	resp.Body.Close()

	if !requestCalled || !responseCalled {
		t.Error("expected both OnRequest and OnResponse to fire")
	}
	if gotService != tracing.ServicePOI || gotOperation != "test_op" {
		t.Errorf("hook saw (%q, %q)", gotService, gotOperation)
	}
	if !gotSuccess {
		t.Error("expected success=true for 200 response")
	}
}

func TestMonitoredDoRequestFailureHook(t *testing.T) {
	defer SetMonitoringHooks(nil)

	var gotSuccess bool
	SetMonitoringHooks(&MonitoringHooks{
		OnResponse: func(service, operation string, duration time.Duration, success bool) {
			gotSuccess = success
		},
	})

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	if _, err := MonitoredDoRequest(context.Background(), tracing.ServicePOI, "test_op", req); err == nil {
		t.Fatal("expected error once retries are exhausted")
	}

	if gotSuccess {
		t.Error("expected success=false for failed request")
	}
	if n := atomic.LoadInt32(&calls); n < 2 {
		t.Errorf("calls = %d, want the request retried before failing", n)
	}
}

func TestMonitoredDoRequestRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := MonitoredDoRequest(context.Background(), tracing.ServicePOI, "test_op", req)
	if err != nil {
		t.Fatalf("MonitoredDoRequest: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 after retry", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestUpdateRateLimits(t *testing.T) {
	UpdateRateLimits("test_service", 5, 2)
	limiter := limiterFor("test_service")
	if limiter == nil {
		t.Fatal("limiter not registered")
	}
	if limiter.Burst() != 2 {
		t.Errorf("Burst() = %d, want 2", limiter.Burst())
	}

	if limiterFor("unknown_service") != nil {
		t.Error("unknown service must not be rate limited")
	}
}

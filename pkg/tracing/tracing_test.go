package tracing

import (
	"context"
	"os"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func TestInitTracing_NoEndpoint(t *testing.T) {
	oldEndpoint := os.Getenv("OTLP_ENDPOINT")
	os.Unsetenv("OTLP_ENDPOINT")
	defer func() {
		if oldEndpoint != "" {
			os.Setenv("OTLP_ENDPOINT", oldEndpoint)
		}
	}()

	ctx := context.Background()
	shutdown, err := InitTracing(ctx, "test-version")
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	defer shutdown(ctx)

	if Tracer == nil {
		t.Fatal("Tracer is nil")
	}

	// Operations on the no-op tracer must not panic
	ctx, span := StartSpan(ctx, "test-span")
	if span == nil {
		t.Fatal("StartSpan returned nil span")
	}
	span.SetAttributes(attribute.String("test", "value"))
	span.SetStatus(codes.Ok, "test")
	span.End()
}

func TestSpanHelpers(t *testing.T) {
	os.Unsetenv("OTLP_ENDPOINT")
	ctx := context.Background()
	shutdown, _ := InitTracing(ctx, "test")
	defer shutdown(ctx)

	ctx, span := StartSpan(ctx, "score-request",
		trace.WithAttributes(
			attribute.String(AttrScoringMode, "walking"),
			attribute.Float64(AttrScoringRadiusKm, 2.0),
		),
	)
	defer span.End()

	if trace.SpanFromContext(ctx) == nil {
		t.Fatal("no span in context")
	}

	// None of these may panic on a non-recording span
	RecordError(ctx, &testError{msg: "boom"})
	SetStatus(ctx, codes.Error, "boom")
	SetStatus(ctx, codes.Ok, "recovered")
	AddEvent(ctx, "rate_limit_wait")
	SetAttributes(ctx,
		attribute.Int(AttrScoringPoiCount, 7),
		attribute.Float64(AttrScoringOverall, 6.67),
	)
}

func TestAttributeHelpers(t *testing.T) {
	attrs := MCPToolAttributes("calculate_score", StatusSuccess, 123, 456)
	if len(attrs) != 4 {
		t.Errorf("MCPToolAttributes returned %d attributes, expected 4", len(attrs))
	}

	attrs = ServiceAttributes(ServiceNominatim, "geocode", "https://example.com", 200)
	if len(attrs) != 4 {
		t.Errorf("ServiceAttributes returned %d attributes, expected 4", len(attrs))
	}

	attrs = CacheAttributes(CacheTypeGeocode, true, "duomo-milano")
	if len(attrs) != 3 {
		t.Errorf("CacheAttributes returned %d attributes, expected 3", len(attrs))
	}

	attrs = ScoringAttributes("walking", 2.0, 3)
	if len(attrs) != 3 {
		t.Errorf("ScoringAttributes returned %d attributes, expected 3", len(attrs))
	}

	if attrs := ErrorAttributes(nil); len(attrs) != 0 {
		t.Errorf("ErrorAttributes(nil) returned %d attributes, expected 0", len(attrs))
	}
	if attrs := ErrorAttributes(&testError{msg: "boom"}); len(attrs) != 2 {
		t.Errorf("ErrorAttributes returned %d attributes, expected 2", len(attrs))
	}
}

func TestEnvironmentDetection(t *testing.T) {
	oldEnv := os.Getenv("ENVIRONMENT")
	os.Unsetenv("ENVIRONMENT")
	if env := getEnvironment(); env != "development" {
		t.Errorf("getEnvironment() = %s, expected 'development'", env)
	}

	os.Setenv("ENVIRONMENT", "production")
	if env := getEnvironment(); env != "production" {
		t.Errorf("getEnvironment() = %s, expected 'production'", env)
	}

	if oldEnv != "" {
		os.Setenv("ENVIRONMENT", oldEnv)
	} else {
		os.Unsetenv("ENVIRONMENT")
	}
}

type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}

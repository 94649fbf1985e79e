package tools

import (
	"context"
	"testing"
)

func TestGetToolNames(t *testing.T) {
	registry := newTestRegistry(&stubGeocoder{}, &stubPOISource{}, &stubReverser{}, &stubHistoryReader{})

	names := registry.GetToolNames()
	want := map[string]bool{
		"get_version":                 false,
		"calculate_score":             false,
		"calculate_score_coordinates": false,
		"list_formulas":               false,
		"list_categories":             false,
		"get_search_history":          false,
		"reverse_geocode":             false,
	}

	for _, name := range names {
		seen, known := want[name]
		if !known {
			t.Errorf("Unexpected tool name %q", name)
			continue
		}
		if seen {
			t.Errorf("Duplicate tool name %q", name)
		}
		want[name] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("Missing tool %q", name)
		}
	}
}

func TestWrapWithTracingPreservesResult(t *testing.T) {
	registry := newTestRegistry(&stubGeocoder{}, &stubPOISource{}, nil, nil)

	wrapped := registry.wrapWithTracing("list_categories", registry.HandleListCategories)
	result, err := wrapped(context.Background(), newToolRequest("list_categories", nil))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	AssertSuccessResult(t, result, "Expected success result, but got error")
}

func TestHandleGetVersion(t *testing.T) {
	result, err := HandleGetVersion(context.Background(), newToolRequest("get_version", nil))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	AssertSuccessResult(t, result, "Expected success result, but got error")

	var output VersionInfo
	if err := ParseResultJSON(result, &output); err != nil {
		t.Fatalf("Failed to unmarshal result: %v", err)
	}
	if output.Version == "" {
		t.Error("Expected a non-empty version")
	}
}

package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Narmer23/vicinia/pkg/scoring"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndListByUser(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	entries := []scoring.HistoryEntry{
		{UserID: "user-1", Address: "Duomo, Milano", Latitude: 45.4642, Longitude: 9.19, TransportationMode: "walking", OverallScore: 4.07, PoiCount: 2},
		{UserID: "user-1", Address: "Navigli, Milano", Latitude: 45.4516, Longitude: 9.1747, TransportationMode: "cycling", OverallScore: 6.2, PoiCount: 11},
		{UserID: "user-2", Address: "Colosseo, Roma", Latitude: 41.8902, Longitude: 12.4922, TransportationMode: "driving", OverallScore: 5.5, PoiCount: 8},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	records, total, err := store.ListByUser(ctx, "user-1", 1, 20)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	for _, r := range records {
		if r.UserID != "user-1" {
			t.Errorf("record for %q leaked into user-1 listing", r.UserID)
		}
		if r.ID == "" {
			t.Error("record missing generated id")
		}
		if r.SearchDate.IsZero() {
			t.Error("record missing search date")
		}
	}

	records, total, err = store.ListByUser(ctx, "user-3", 1, 20)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if total != 0 || len(records) != 0 {
		t.Errorf("empty user returned total=%d len=%d", total, len(records))
	}
}

func TestListByUserPagination(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Record(ctx, scoring.HistoryEntry{
			UserID:             "user-1",
			Address:            "Duomo, Milano",
			TransportationMode: "walking",
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	records, total, err := store.ListByUser(ctx, "user-1", 2, 2)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(records) != 2 {
		t.Errorf("page 2 size = %d, want 2", len(records))
	}

	records, _, err = store.ListByUser(ctx, "user-1", 3, 2)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("page 3 size = %d, want 1", len(records))
	}

	// Out-of-range page parameters fall back to sane defaults.
	records, _, err = store.ListByUser(ctx, "user-1", 0, -1)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(records) != 5 {
		t.Errorf("defaulted page size = %d, want 5", len(records))
	}
}

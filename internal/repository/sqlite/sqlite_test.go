package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fleetscan/internal/repository"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSaveAndListRecords(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	first := &repository.Record{
		Address:   "192.0.2.1",
		Prober:    "s7",
		Found:     true,
		Details:   map[string]any{"module": "6ES7 315-2EH14-0AB0", "pdu_length": float64(960)},
		ElapsedMs: 42,
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	second := &repository.Record{
		Address:   "192.0.2.2",
		Prober:    "ssdp",
		Found:     false,
		ElapsedMs: 5000,
		CreatedAt: time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC),
	}

	for _, rec := range []*repository.Record{first, second} {
		if err := repo.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
		if rec.ID == 0 {
			t.Error("save must backfill the record id")
		}
	}

	all, err := repo.ListRecords(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d records, want 2", len(all))
	}
	if all[0].Address != "192.0.2.2" {
		t.Errorf("first listed = %s, want newest first", all[0].Address)
	}
	if all[1].Details["module"] != "6ES7 315-2EH14-0AB0" {
		t.Errorf("details = %v, want JSON round-trip", all[1].Details)
	}
	if all[0].Details != nil {
		t.Errorf("details = %v, want nil for detail-less record", all[0].Details)
	}
	if all[0].Found || !all[1].Found {
		t.Errorf("found flags = %v, %v", all[0].Found, all[1].Found)
	}
}

func TestListRecords_FilterByAddress(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for _, addr := range []string{"192.0.2.1", "192.0.2.1", "192.0.2.9"} {
		rec := &repository.Record{Address: addr, Prober: "dns"}
		if err := repo.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	filtered, err := repo.ListRecords(ctx, "192.0.2.1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("got %d records, want 2 for the filtered address", len(filtered))
	}
	for _, rec := range filtered {
		if rec.Address != "192.0.2.1" {
			t.Errorf("record address = %s", rec.Address)
		}
	}
}

func TestPruneBefore(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	old := &repository.Record{
		Address:   "192.0.2.1",
		Prober:    "onvif",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	recent := &repository.Record{
		Address:   "192.0.2.1",
		Prober:    "onvif",
		CreatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, rec := range []*repository.Record{old, recent} {
		if err := repo.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	pruned, err := repo.PruneBefore(ctx, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned %d records, want 1", pruned)
	}

	remaining, err := repo.ListRecords(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || !remaining[0].CreatedAt.Equal(recent.CreatedAt) {
		t.Errorf("remaining = %+v", remaining)
	}
}

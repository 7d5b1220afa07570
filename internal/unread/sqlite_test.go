package unread

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markers.db")
	store, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	// Missing marker is empty, not an error.
	if id, err := store.Get(ctx, "c1"); err != nil || id != "" {
		t.Fatalf("expected empty marker, got %q err=%v", id, err)
	}

	if err := store.Set(ctx, "c1", "m10"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if id, _ := store.Get(ctx, "c1"); id != "m10" {
		t.Errorf("expected m10, got %q", id)
	}

	// Last writer wins on the channel key.
	if err := store.Set(ctx, "c1", "m20"); err != nil {
		t.Fatalf("second Set failed: %v", err)
	}
	if id, _ := store.Get(ctx, "c1"); id != "m20" {
		t.Errorf("expected m20, got %q", id)
	}

	if err := store.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if id, _ := store.Get(ctx, "c1"); id != "" {
		t.Errorf("expected empty marker after delete, got %q", id)
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markers.db")
	ctx := context.Background()

	store, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}
	if err := store.Set(ctx, "c1", "m1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	store.Close()

	reopened, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if id, _ := reopened.Get(ctx, "c1"); id != "m1" {
		t.Errorf("marker should survive reopen, got %q", id)
	}
}

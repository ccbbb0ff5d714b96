package state

import (
	"errors"
	"testing"

	"mldownloader/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := &config.Config{Version: 1, General: config.General{DataRoot: t.TempDir(), DownloadRoot: t.TempDir()}}
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestModelUpsertGet(t *testing.T) {
	db := openTestDB(t)
	if err := db.UpsertModel(ModelRow{Name: "ecg", Path: "/m/ecg.bin", Hash: "aa", Size: 10}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.UpsertModel(ModelRow{Name: "ecg", Path: "/m/ecg.bin", Hash: "bb", Size: 12}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	got, err := db.GetModel("ecg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Hash != "bb" || got.Size != 12 || got.Path != "/m/ecg.bin" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if _, err := db.GetModel("missing"); !errors.Is(err, ErrNoRow) {
		t.Fatalf("expected ErrNoRow, got %v", err)
	}
}

func TestModelListOrderAndDelete(t *testing.T) {
	db := openTestDB(t)
	for _, n := range []string{"zeta", "alpha", "mid"} {
		if err := db.UpsertModel(ModelRow{Name: n, Path: "/m/" + n}); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := db.ListModels()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range rows {
		names = append(names, r.Name)
	}
	if len(names) != 3 || names[0] != "zeta" || names[1] != "alpha" || names[2] != "mid" {
		t.Fatalf("expected insertion order, got %v", names)
	}
	if err := db.DeleteModel("alpha"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := db.DeleteModel("alpha"); !errors.Is(err, ErrNoRow) {
		t.Fatalf("second delete should report ErrNoRow, got %v", err)
	}
	rows, _ = db.ListModels()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after delete, got %d", len(rows))
	}
}

func TestUpsertRequiresName(t *testing.T) {
	db := openTestDB(t)
	if err := db.UpsertModel(ModelRow{Path: "/x"}); err == nil {
		t.Fatal("expected error for empty name")
	}
}

package db

import "testing"

// The -migrate entry point must open the store with OpenDB. A store that
// already ran the inline baseline schema cannot take migration 000001, whose
// DDL has no IF NOT EXISTS.
func TestMigrateUpRejectsBaselineStore(t *testing.T) {
	db := newTestDB(t)
	if err := db.MigrateUp(); err == nil {
		t.Fatal("MigrateUp succeeded on a store that already has the baseline schema")
	}
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	db, err := OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("first MigrateUp failed: %v", err)
	}
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 || dirty {
		t.Errorf("version = %d dirty = %v, want 1 clean", version, dirty)
	}
}

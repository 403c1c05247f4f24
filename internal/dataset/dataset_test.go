package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/BTreeMap/VoterBot/internal/models"
	"github.com/BTreeMap/VoterBot/internal/testutil"
)

func sample() []models.Record {
	return []models.Record{
		testutil.FullRecord("1001"),
		testutil.SparseRecord("1002"),
		testutil.Record("1003", "", "", "Māori", "", "Kāinga Ora", "", "Te Pāti Māori", ""),
	}
}

func TestParquetRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "processed", "nzes2023.parquet")
	want := sample()

	if err := Save(ctx, path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	ds, err := Load(ctx, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, ds.Records()); diff != "" {
		t.Errorf("parquet round trip (-want +got):\n%s", diff)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "records.db")
	want := sample()

	if err := Save(ctx, dsn, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	ds, err := Load(ctx, dsn)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, ds.Records()); diff != "" {
		t.Errorf("sqlite round trip (-want +got):\n%s", diff)
	}
}

func TestSaveReplaces(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "d.parquet")
	if err := Save(ctx, path, testutil.SampleRecords(5)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Save(ctx, path, testutil.SampleRecords(2)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	ds, err := Load(ctx, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ds.Len() != 2 {
		t.Errorf("expected 2 records after overwrite, got %d", ds.Len())
	}
}

func TestLoadMissingParquet(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.parquet"))
	if !errors.Is(err, ErrDatasetNotFound) {
		t.Fatalf("expected ErrDatasetNotFound, got %v", err)
	}
}

func TestLoadMissingSQLite(t *testing.T) {
	dir := t.TempDir()
	for _, location := range []string{
		filepath.Join(dir, "nzes2023.pq"),
		"sqlite://" + filepath.Join(dir, "records.db"),
		"file:" + filepath.Join(dir, "records.db") + "?cache=shared",
	} {
		_, err := Load(context.Background(), location)
		if !errors.Is(err, ErrDatasetNotFound) {
			t.Errorf("Load(%q) error = %v, want ErrDatasetNotFound", location, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "nzes2023.pq")); !os.IsNotExist(err) {
		t.Errorf("Load created a database at a missing path: %v", err)
	}
}

func TestIsParquet(t *testing.T) {
	tests := map[string]bool{
		"data/processed/nzes2023.parquet": true,
		"X.PARQUET":                       true,
		"records.db":                      false,
		"postgres://localhost/voterbot":   false,
	}
	for in, want := range tests {
		if got := IsParquet(in); got != want {
			t.Errorf("IsParquet(%q) = %v, want %v", in, got, want)
		}
	}
}

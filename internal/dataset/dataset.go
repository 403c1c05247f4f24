// Package dataset reads and writes the processed respondent dataset.
//
// A location ending in ".parquet" is a Parquet file; any other location is a
// SQL DSN handled by the store package.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/BTreeMap/VoterBot/internal/models"
	"github.com/BTreeMap/VoterBot/internal/store"
)

// DefaultPath is the processed dataset location used when none is given.
const DefaultPath = "data/processed/nzes2023.parquet"

// ErrDatasetNotFound is returned when a Parquet dataset file or SQLite
// database does not exist.
var ErrDatasetNotFound = errors.New("processed dataset not found")

// row is the Parquet schema of one record. Pointer fields are optional columns.
type row struct {
	RespondentID *string `parquet:"respondent_id"`
	AgeBucket    *string `parquet:"age_bucket"`
	Gender       *string `parquet:"gender"`
	Ethnicity    *string `parquet:"ethnicity"`
	Education    *string `parquet:"education"`
	Housing      *string `parquet:"housing"`
	UrbanRural   *string `parquet:"urban_rural"`
	PartyVote    *string `parquet:"party_vote"`
	Ideology     *string `parquet:"ideology"`
}

func toRow(r models.Record) row {
	id := r.RespondentID
	return row{
		RespondentID: &id,
		AgeBucket:    r.AgeBucket,
		Gender:       r.Gender,
		Ethnicity:    r.Ethnicity,
		Education:    r.Education,
		Housing:      r.Housing,
		UrbanRural:   r.UrbanRural,
		PartyVote:    r.PartyVote,
		Ideology:     r.Ideology,
	}
}

func (w row) record() models.Record {
	return models.Record{
		RespondentID: models.Deref(w.RespondentID),
		AgeBucket:    w.AgeBucket,
		Gender:       w.Gender,
		Ethnicity:    w.Ethnicity,
		Education:    w.Education,
		Housing:      w.Housing,
		UrbanRural:   w.UrbanRural,
		PartyVote:    w.PartyVote,
		Ideology:     w.Ideology,
	}
}

// IsParquet reports whether location names a Parquet file.
func IsParquet(location string) bool {
	return strings.EqualFold(filepath.Ext(location), ".parquet")
}

// Save writes records to location, replacing any previous contents.
func Save(ctx context.Context, location string, records []models.Record) error {
	if location == "" {
		location = DefaultPath
	}
	if IsParquet(location) {
		return saveParquet(location, records)
	}
	s, err := store.Open(location)
	if err != nil {
		return fmt.Errorf("failed to open dataset store: %w", err)
	}
	defer s.Close()
	if err := s.ReplaceRecords(ctx, records); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	slog.Info("dataset.Save: wrote records to store", "count", len(records), "type", store.DetectDSNType(location))
	return nil
}

// Load reads the dataset at location and validates it.
func Load(ctx context.Context, location string) (*models.Dataset, error) {
	if location == "" {
		location = DefaultPath
	}
	var records []models.Record
	if IsParquet(location) {
		var err error
		if records, err = loadParquet(location); err != nil {
			return nil, err
		}
	} else {
		if err := sqliteExists(location); err != nil {
			return nil, err
		}
		s, err := store.Open(location)
		if err != nil {
			return nil, fmt.Errorf("failed to open dataset store: %w", err)
		}
		defer s.Close()
		if records, err = s.ListRecords(ctx); err != nil {
			return nil, fmt.Errorf("failed to read dataset: %w", err)
		}
	}
	ds, err := models.NewDataset(records)
	if err != nil {
		return nil, fmt.Errorf("invalid dataset %s: %w", location, err)
	}
	slog.Debug("dataset.Load: loaded records", "location", location, "count", ds.Len())
	return ds, nil
}

// sqliteExists stops Load from creating an empty database at a mistyped path.
func sqliteExists(location string) error {
	if store.DetectDSNType(location) != store.DSNTypeSQLite {
		return nil
	}
	path := store.SQLitePath(location)
	if path == ":memory:" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrDatasetNotFound, location)
	}
	return nil
}

func saveParquet(path string, records []models.Record) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create dataset directory %s: %w", dir, err)
		}
	}
	rows := make([]row, len(records))
	for i, r := range records {
		rows[i] = toRow(r)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("failed to write parquet dataset %s: %w", path, err)
	}
	slog.Info("dataset.Save: wrote parquet dataset", "path", path, "count", len(rows))
	return nil
}

func loadParquet(path string) ([]models.Record, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
	}
	rows, err := parquet.ReadFile[row](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet dataset %s: %w", path, err)
	}
	records := make([]models.Record, len(rows))
	for i, w := range rows {
		records[i] = w.record()
	}
	return records, nil
}

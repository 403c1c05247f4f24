// Package testutil provides shared fixtures and assertions for VoterBot tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BTreeMap/VoterBot/internal/models"
)

// TB is the subset of testing.TB used by the helpers, so they can be
// exercised with a recording fake.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// Record builds a record whose categorical fields are filled in models.Fields
// order from values. Empty strings leave a field absent.
func Record(id string, values ...string) models.Record {
	r := models.Record{RespondentID: id}
	for i, v := range values {
		if i >= len(models.Fields) {
			break
		}
		_ = r.Set(models.Fields[i], models.Str(v))
	}
	return r
}

// FullRecord returns a record with all eight fields present.
func FullRecord(id string) models.Record {
	return Record(id, "25-34", "Female", "European", "University", "Rent privately", "urban", "Green", "left")
}

// SparseRecord returns a record with only the age bucket and gender present.
func SparseRecord(id string) models.Record {
	return Record(id, "65+", "Male")
}

// SampleRecords returns n full records with ids "1" through n.
func SampleRecords(n int) []models.Record {
	out := make([]models.Record, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, FullRecord(fmt.Sprint(i)))
	}
	return out
}

// NewDataset builds a dataset and fails the test on error.
func NewDataset(t TB, records ...models.Record) *models.Dataset {
	t.Helper()
	ds, err := models.NewDataset(records)
	if err != nil {
		t.Fatalf("failed to build dataset: %v", err)
	}
	return ds
}

// MemoryBackend is an in-memory state backend that records every save.
type MemoryBackend struct {
	mu      sync.Mutex
	Current *models.ScheduleState
	Saves   int
	SaveErr error
}

// NewMemoryBackend returns a backend holding st, or defaults when st is nil.
func NewMemoryBackend(st *models.ScheduleState) *MemoryBackend {
	if st == nil {
		st = models.DefaultScheduleState()
	}
	return &MemoryBackend{Current: st.Clone()}
}

// Load returns a copy of the stored state.
func (b *MemoryBackend) Load(ctx context.Context) (*models.ScheduleState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Current.Clone(), nil
}

// Save stores a copy of st unless SaveErr is set.
func (b *MemoryBackend) Save(ctx context.Context, st *models.ScheduleState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SaveErr != nil {
		return b.SaveErr
	}
	b.Current = st.Clone()
	b.Saves++
	return nil
}

// Location returns "memory".
func (b *MemoryBackend) Location() string {
	return "memory"
}

// AssertNoDuplicates fails if ids contains a repeated value.
func AssertNoDuplicates(t TB, ids []string, context string) {
	t.Helper()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			t.Errorf("%s: duplicate id %q in %v", context, id, ids)
			return
		}
		seen[id] = true
	}
}

// AssertUsedIDs fails unless st.UsedIDs equals want in order.
func AssertUsedIDs(t TB, st *models.ScheduleState, want []string, context string) {
	t.Helper()
	if len(st.UsedIDs) != len(want) {
		t.Errorf("%s: expected used ids %v, got %v", context, want, st.UsedIDs)
		return
	}
	for i := range want {
		if st.UsedIDs[i] != want[i] {
			t.Errorf("%s: expected used ids %v, got %v", context, want, st.UsedIDs)
			return
		}
	}
}

// WriteFile writes data under dir, creating parent directories, and returns the path.
func WriteFile(t TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

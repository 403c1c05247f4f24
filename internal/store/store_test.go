package store

import (
	"context"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/VoterBot/internal/models"
	"github.com/BTreeMap/VoterBot/internal/testutil"
	"github.com/google/go-cmp/cmp"
)

func sampleReceipts() []models.PostReceipt {
	base := time.Date(2024, 6, 1, 8, 0, 0, 123456000, time.UTC)
	return []models.PostReceipt{
		{RespondentID: "7", URI: "at://did:plc:abc/app.bsky.feed.post/1", Text: "first", Channel: "bluesky", PostedAt: base},
		{RespondentID: "3", URI: "SM1", Text: "second", Channel: "twilio", PostedAt: base.Add(time.Hour)},
	}
}

// exerciseStore runs the shared contract against any Store implementation.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	records := []models.Record{
		testutil.FullRecord("10"),
		testutil.SparseRecord("2"),
		testutil.Record("5", "", "Female", "", "", "", "rural"),
		testutil.FullRecord("10"),
	}
	if err := s.ReplaceRecords(ctx, records); err != nil {
		t.Fatalf("ReplaceRecords: %v", err)
	}
	got, err := s.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if diff := cmp.Diff(records[:3], got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	replacement := []models.Record{testutil.SparseRecord("99")}
	if err := s.ReplaceRecords(ctx, replacement); err != nil {
		t.Fatalf("ReplaceRecords: %v", err)
	}
	got, err = s.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if diff := cmp.Diff(replacement, got); diff != "" {
		t.Errorf("replacement mismatch (-want +got):\n%s", diff)
	}

	if err := s.ReplaceRecords(ctx, []models.Record{{RespondentID: "  "}}); err == nil {
		t.Error("expected error for blank respondent id")
	}

	want := sampleReceipts()
	for _, r := range want {
		if err := s.AddReceipt(ctx, r); err != nil {
			t.Fatalf("AddReceipt: %v", err)
		}
	}
	receipts, err := s.GetReceipts(ctx)
	if err != nil {
		t.Fatalf("GetReceipts: %v", err)
	}
	if len(receipts) != len(want) {
		t.Fatalf("expected %d receipts, got %d", len(want), len(receipts))
	}
	for i := range want {
		if receipts[i].RespondentID != want[i].RespondentID || receipts[i].URI != want[i].URI ||
			receipts[i].Text != want[i].Text || receipts[i].Channel != want[i].Channel {
			t.Errorf("receipt %d = %+v, want %+v", i, receipts[i], want[i])
		}
		if !receipts[i].PostedAt.Equal(want[i].PostedAt) {
			t.Errorf("receipt %d posted_at = %v, want %v", i, receipts[i].PostedAt, want[i].PostedAt)
		}
	}
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "voterbot.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "voterbot.db")

	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	records := testutil.SampleRecords(3)
	if err := s.ReplaceRecords(ctx, records); err != nil {
		t.Fatalf("ReplaceRecords: %v", err)
	}
	s.Close()

	reopened, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if diff := cmp.Diff(records, got); diff != "" {
		t.Errorf("records after reopen (-want +got):\n%s", diff)
	}
}

func TestSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Error("expected error without DSN")
	}
}

func TestOpenSQLite(t *testing.T) {
	s, err := Open("sqlite://" + filepath.Join(t.TempDir(), "open.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("expected *SQLiteStore, got %T", s)
	}
}

func TestDetectDSNType(t *testing.T) {
	tests := []struct {
		dsn  string
		want DSNType
	}{
		{"postgres://user:pw@localhost/db", DSNTypePostgres},
		{"postgresql://localhost/db?sslmode=disable", DSNTypePostgres},
		{"host=localhost dbname=voterbot sslmode=disable", DSNTypePostgres},
		{"data/processed/records.db", DSNTypeSQLite},
		{"file:records.db?cache=shared", DSNTypeSQLite},
		{":memory:", DSNTypeSQLite},
	}
	for _, tt := range tests {
		if got := DetectDSNType(tt.dsn); got != tt.want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestSQLitePath(t *testing.T) {
	if got := SQLitePath("file:data/x.db?cache=shared"); got != "data/x.db" {
		t.Errorf("SQLitePath = %q", got)
	}
	if got := SQLitePath("sqlite://data/x.db"); got != "data/x.db" {
		t.Errorf("SQLitePath = %q", got)
	}
	if got := SQLitePath("plain.db"); got != "plain.db" {
		t.Errorf("SQLitePath = %q", got)
	}
}

func TestPostgresStore(t *testing.T) {
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()
	pgStore.db.Exec("DELETE FROM post_receipts")
	exerciseStore(t, pgStore)
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}

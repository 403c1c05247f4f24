// Package store provides SQL storage backends for VoterBot.
//
// A Store holds the processed respondent records (an alternative to the
// Parquet file) and an append-only audit log of published posts. The audit
// log is informational; scheduling progress lives in the schedule state.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/VoterBot/internal/models"
)

// Store persists processed records and post receipts.
type Store interface {
	// ReplaceRecords atomically replaces every stored record, keeping order.
	ReplaceRecords(ctx context.Context, records []models.Record) error
	// ListRecords returns the stored records in insertion order.
	ListRecords(ctx context.Context) ([]models.Record, error)
	// AddReceipt appends a post receipt.
	AddReceipt(ctx context.Context, r models.PostReceipt) error
	// GetReceipts returns all receipts, oldest first.
	GetReceipts(ctx context.Context) ([]models.PostReceipt, error)
	Close() error
}

// DSNType identifies the database behind a DSN.
type DSNType string

const (
	DSNTypeSQLite   DSNType = "sqlite"
	DSNTypePostgres DSNType = "postgres"
)

// DetectDSNType returns DSNTypePostgres for postgres:// URLs and key=value
// connection strings, and DSNTypeSQLite for everything else.
func DetectDSNType(dsn string) DSNType {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DSNTypePostgres
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database path or file: URI.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// Open creates the store for dsn based on DetectDSNType.
func Open(dsn string) (Store, error) {
	switch t := DetectDSNType(dsn); t {
	case DSNTypePostgres:
		slog.Debug("store.Open: using Postgres store")
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		slog.Debug("store.Open: using SQLite store", "dsn", dsn)
		return NewSQLiteStore(WithSQLiteDSN(strings.TrimPrefix(dsn, "sqlite://")))
	}
}

// InMemoryStore is a Store held in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	records  []models.Record
	receipts []models.PostReceipt
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) ReplaceRecords(ctx context.Context, records []models.Record) error {
	out := make([]models.Record, 0, len(records))
	seen := make(map[string]bool, len(records))
	for i, r := range records {
		if err := r.Normalize(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if seen[r.RespondentID] {
			continue
		}
		seen[r.RespondentID] = true
		out = append(out, r)
	}
	s.mu.Lock()
	s.records = out
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) ListRecords(ctx context.Context) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records), nil
}

func (s *InMemoryStore) AddReceipt(ctx context.Context, r models.PostReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.PostedAt = r.PostedAt.UTC().Truncate(time.Microsecond)
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts(ctx context.Context) ([]models.PostReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.receipts), nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}

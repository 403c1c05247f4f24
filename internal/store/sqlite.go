package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/VoterBot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// SQLitePath returns the filesystem path inside a SQLite DSN.
func SQLitePath(dsn string) string {
	p := strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite://"), "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

// NewSQLiteStore opens the database, creating its directory, and applies migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqlite DSN is required")
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: opening database", "dsn", cfg.DSN)

	if path := SQLitePath(cfg.DSN); path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				slog.Error("SQLiteStore.NewSQLiteStore: failed to create database directory", "error", err, "dir", dir)
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("SQLiteStore.NewSQLiteStore: failed to open database", "error", err)
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("SQLiteStore.NewSQLiteStore: failed to ping database", "error", err)
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		db.Close()
		slog.Error("SQLiteStore.NewSQLiteStore: failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run sqlite migrations: %w", err)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: database ready")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ReplaceRecords(ctx context.Context, records []models.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO records (position, "+recordColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		if err := r.Normalize(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, recordArgs(i, r)...); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", r.RespondentID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	slog.Debug("SQLiteStore.ReplaceRecords: records replaced", "count", len(records))
	return nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+recordColumns+" FROM records ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) AddReceipt(ctx context.Context, r models.PostReceipt) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO post_receipts (respondent_id, uri, text, channel, posted_at) VALUES (?, ?, ?, ?, ?)",
		r.RespondentID, r.URI, r.Text, r.Channel, r.PostedAt.UTC().Truncate(time.Microsecond))
	if err != nil {
		slog.Error("SQLiteStore.AddReceipt: insert failed", "error", err, "respondent_id", r.RespondentID)
		return fmt.Errorf("failed to add receipt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetReceipts(ctx context.Context) ([]models.PostReceipt, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT respondent_id, uri, text, channel, posted_at FROM post_receipts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("SQLiteStore.Close: closing database")
	return s.db.Close()
}

package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/VoterBot/internal/models"
	_ "github.com/lib/pq"
)

// Connection pool defaults.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects, configures the pool, and applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	slog.Debug("PostgresStore.NewPostgresStore: opening database")

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("PostgresStore.NewPostgresStore: failed to open database", "error", err)
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("PostgresStore.NewPostgresStore: failed to ping database", "error", err)
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		db.Close()
		slog.Error("PostgresStore.NewPostgresStore: failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run postgres migrations: %w", err)
	}
	slog.Debug("PostgresStore.NewPostgresStore: database ready")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) ReplaceRecords(ctx context.Context, records []models.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO records (position, "+recordColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) "+
			"ON CONFLICT (respondent_id) DO NOTHING")
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
	slog.Debug("PostgresStore.ReplaceRecords: records replaced", "count", len(records))
	return nil
}

func (s *PostgresStore) ListRecords(ctx context.Context) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+recordColumns+" FROM records ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) AddReceipt(ctx context.Context, r models.PostReceipt) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO post_receipts (respondent_id, uri, text, channel, posted_at) VALUES ($1, $2, $3, $4, $5)",
		r.RespondentID, r.URI, r.Text, r.Channel, r.PostedAt.UTC().Truncate(time.Microsecond))
	if err != nil {
		slog.Error("PostgresStore.AddReceipt: insert failed", "error", err, "respondent_id", r.RespondentID)
		return fmt.Errorf("failed to add receipt: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReceipts(ctx context.Context) ([]models.PostReceipt, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT respondent_id, uri, text, channel, posted_at FROM post_receipts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()
	return scanReceipts(rows)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"masterok/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the on-device store for the mutation queue and entity caches.
// It exclusively owns all durable state: callers read, mutate and release
// on every operation rather than holding long-lived copies.
type DB struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS mutation_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            kind TEXT NOT NULL,
            local_id TEXT NOT NULL,
            payload TEXT NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            data TEXT NOT NULL,
            cached_at DATETIME NOT NULL,
            synced BOOLEAN NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS providers (
            id TEXT PRIMARY KEY,
            data TEXT NOT NULL,
            cached_at DATETIME NOT NULL,
            synced BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS services (
            id TEXT PRIMARY KEY,
            data TEXT NOT NULL,
            cached_at DATETIME NOT NULL,
            synced BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            kind TEXT NOT NULL,
            local_id TEXT NOT NULL,
            payload TEXT NOT NULL,
            retry_count INTEGER NOT NULL,
            error TEXT NOT NULL,
            failed_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_mutation_queue_local_id ON mutation_queue(local_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_synced ON bookings(synced)`,
		`CREATE INDEX IF NOT EXISTS idx_providers_cached_at ON providers(cached_at)`,
		`CREATE INDEX IF NOT EXISTS idx_services_cached_at ON services(cached_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

// cacheTables is the allowlist of collection names; collection arguments are
// interpolated into SQL and must never come from untrusted input unchecked.
var cacheTables = map[string]bool{
	models.CollectionBookings:  true,
	models.CollectionProviders: true,
	models.CollectionServices:  true,
}

func checkCollection(collection string) error {
	if !cacheTables[collection] {
		return fmt.Errorf("unknown collection: %s", collection)
	}
	return nil
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

func (db *DB) PingContext(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.db.Close()
}

// ClearAll empties every collection including the queue and dead letters.
// Invoked on logout so no user data survives sign-out.
func (db *DB) ClearAll(ctx context.Context) error {
	tables := []string{"mutation_queue", "dead_letters", models.CollectionBookings, models.CollectionProviders, models.CollectionServices}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clear transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear transaction: %w", err)
	}
	db.logger.Info().Msg("All offline data cleared")
	return nil
}

// ClearExpired deletes cache entries whose cached_at predates now minus
// maxAge. The queue is never swept by age.
func (db *DB) ClearExpired(ctx context.Context, collection string, maxAge time.Duration) (int64, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	result, err := db.db.ExecContext(ctx, "DELETE FROM "+collection+" WHERE cached_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired %s: %w", collection, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared rows: %w", err)
	}
	return deleted, nil
}

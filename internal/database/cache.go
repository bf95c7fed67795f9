package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"masterok/internal/models"
)

// ErrNotFound is returned when a cache lookup misses.
var ErrNotFound = errors.New("cache entry not found")

// UpsertCached replace-or-inserts entries by primary key. All entries land
// in one transaction so readers never observe a half-applied refresh.
func (db *DB) UpsertCached(ctx context.Context, collection string, entries []models.CacheEntry) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+collection+` (id, data, cached_at, synced) VALUES (?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at, synced = excluded.synced`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		cachedAt := entry.CachedAt
		if cachedAt.IsZero() {
			cachedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, entry.ID, string(entry.Data), cachedAt, entry.Synced); err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", collection, entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert transaction: %w", err)
	}
	return nil
}

// GetCached returns a single cache entry or ErrNotFound.
func (db *DB) GetCached(ctx context.Context, collection, id string) (*models.CacheEntry, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	var entry models.CacheEntry
	var data string
	err := db.QueryRowContext(ctx,
		`SELECT id, data, cached_at, synced FROM `+collection+` WHERE id = ?`, id,
	).Scan(&entry.ID, &data, &entry.CachedAt, &entry.Synced)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	entry.Data = []byte(data)
	return &entry, nil
}

// ListCached returns every entry of a collection, newest cache write first.
func (db *DB) ListCached(ctx context.Context, collection string) ([]models.CacheEntry, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, data, cached_at, synced FROM `+collection+` ORDER BY cached_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	var entries []models.CacheEntry
	for rows.Next() {
		var entry models.CacheEntry
		var data string
		if err := rows.Scan(&entry.ID, &data, &entry.CachedAt, &entry.Synced); err != nil {
			return nil, fmt.Errorf("failed to scan %s entry: %w", collection, err)
		}
		entry.Data = []byte(data)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// RekeyBooking replaces a booking's storage key in one transaction: the
// localID row disappears and the serverID row appears with synced=1.
// Readers never observe the delete and insert as two states.
func (db *DB) RekeyBooking(ctx context.Context, localID, serverID string, data []byte) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rekey transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, localID); err != nil {
		return fmt.Errorf("failed to remove local booking %s: %w", localID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (id, data, cached_at, synced) VALUES (?, ?, ?, 1)
         ON CONFLICT(id) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at, synced = 1`,
		serverID, string(data), time.Now(),
	); err != nil {
		return fmt.Errorf("failed to insert booking %s: %w", serverID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rekey transaction: %w", err)
	}
	return nil
}
